package terminal

import "testing"

func feed(p *Parser, s string) { p.Write([]byte(s)) }

func TestParserPlainTextAndNewline(t *testing.T) {
	g := NewGrid(10, 3, 0)
	p := NewParser(g)
	feed(p, "hi\r\n")
	if g.cells[0][0].Char != 'h' || g.cells[0][1].Char != 'i' {
		t.Fatalf("plain text not written correctly")
	}
	if g.CursorX != 0 || g.CursorY != 1 {
		t.Fatalf("cursor after CRLF = (%d,%d), want (0,1)", g.CursorX, g.CursorY)
	}
}

func TestParserCursorPositioning(t *testing.T) {
	g := NewGrid(10, 10, 0)
	p := NewParser(g)
	feed(p, "\x1b[5;3H")
	if g.CursorY != 4 || g.CursorX != 2 {
		t.Fatalf("CUP -> (%d,%d), want (2,4)", g.CursorX, g.CursorY)
	}
	feed(p, "\x1b[2A")
	if g.CursorY != 2 {
		t.Fatalf("CUU 2 -> row %d, want 2", g.CursorY)
	}
}

func TestParserSGRBasicAttributes(t *testing.T) {
	g := NewGrid(10, 2, 0)
	p := NewParser(g)
	feed(p, "\x1b[1;31mX")
	c := g.cells[0][0]
	if c.Attributes&AttrBold == 0 {
		t.Fatalf("bold attribute not set")
	}
	if c.Fg != 1 {
		t.Fatalf("fg = %d, want 1 (red)", c.Fg)
	}
}

func TestParserSGR256AndTruecolor(t *testing.T) {
	g := NewGrid(10, 2, 0)
	p := NewParser(g)
	feed(p, "\x1b[38;5;200mA")
	if g.cells[0][0].Fg != 200 {
		t.Fatalf("256-color fg = %d, want 200", g.cells[0][0].Fg)
	}

	feed(p, "\x1b[48;2;10;20;30mB")
	bg := g.cells[0][1].Bg
	if !isRGB(bg) {
		t.Fatalf("expected truecolor bg flag set")
	}
	r, gr, b := rgbParts(bg)
	if r != 10 || gr != 20 || b != 30 {
		t.Fatalf("rgb bg = (%d,%d,%d), want (10,20,30)", r, gr, b)
	}
}

func TestParserEraseAndReset(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	feed(p, "abcde")
	feed(p, "\x1b[1;1H\x1b[K")
	for x := 0; x < 5; x++ {
		if g.cells[0][x].Char != ' ' {
			t.Fatalf("EL did not clear column %d", x)
		}
	}
}

func TestParserAltScreenMode(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	feed(p, "main")
	feed(p, "\x1b[?1049h")
	feed(p, "alt1")
	feed(p, "\x1b[?1049l")
	if g.cells[0][0].Char != 'm' {
		t.Fatalf("primary screen not restored after alt-screen exit")
	}
}

func TestParserUnknownSequenceDropped(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	feed(p, "\x1b[99zX")
	if g.cells[0][0].Char != 'X' {
		t.Fatalf("unknown CSI sequence leaked into grid")
	}
}

func TestParserOSCTerminatesOnBEL(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	feed(p, "\x1b]0;title\x07Y")
	if g.cells[0][0].Char != 'Y' {
		t.Fatalf("OSC not correctly terminated on BEL; got %q", string(g.cells[0][0].Char))
	}
}

func TestParserOSCTerminatesOnST(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	feed(p, "\x1b]0;title\x1b\\Z")
	if g.cells[0][0].Char != 'Z' {
		t.Fatalf("OSC not correctly terminated on ST; got %q", string(g.cells[0][0].Char))
	}
}

func TestParserMultiByteRuneAcrossChunks(t *testing.T) {
	g := NewGrid(5, 2, 0)
	p := NewParser(g)
	full := []byte("é") // 2-byte UTF-8
	p.Write(full[:1])
	p.Write(full[1:])
	if g.cells[0][0].Char != 'é' {
		t.Fatalf("multi-byte rune split across Write calls not reassembled: got %q", string(g.cells[0][0].Char))
	}
}

func TestParserScrollRegion(t *testing.T) {
	g := NewGrid(3, 4, 10)
	p := NewParser(g)
	feed(p, "\x1b[2;3r") // scroll region rows 2-3
	if g.scrollTop != 1 || g.scrollBottom != 2 {
		t.Fatalf("scroll region = [%d,%d], want [1,2]", g.scrollTop, g.scrollBottom)
	}
}
