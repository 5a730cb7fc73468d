package terminal

import "testing"

func TestGridPutWrapsAndScrolls(t *testing.T) {
	g := NewGrid(4, 2, 10)
	for _, r := range "abcdefgh" {
		g.Put(r)
		if g.CursorX >= g.Cols {
			g.newline()
			g.CursorX = 0
		}
	}
	if got := string(g.cells[0][0].Char); got != "e" {
		t.Fatalf("row 0 col 0 = %q, want %q", got, "e")
	}
	if len(g.scrollback) != 1 {
		t.Fatalf("scrollback length = %d, want 1", len(g.scrollback))
	}
	if string(g.scrollback[0][0].Char) != "a" {
		t.Fatalf("scrollback[0][0] = %q, want %q", string(g.scrollback[0][0].Char), "a")
	}
}

func TestGridResizeGrowPadsShrinkTruncates(t *testing.T) {
	g := NewGrid(4, 2, 10)
	g.cells[0][0] = Cell{Char: 'x', Fg: ColorDefault, Bg: ColorDefault}
	g.Resize(6, 2)
	if g.Cols != 6 {
		t.Fatalf("cols = %d, want 6", g.Cols)
	}
	if g.cells[0][0].Char != 'x' {
		t.Fatalf("existing content lost after grow")
	}
	if g.cells[0][5].Char != ' ' {
		t.Fatalf("new columns not blank-padded")
	}

	g.Resize(2, 2)
	if len(g.cells[0]) != 2 {
		t.Fatalf("row width after shrink = %d, want 2", len(g.cells[0]))
	}
}

func TestGridCursorClamp(t *testing.T) {
	g := NewGrid(4, 2, 0)
	g.CursorX, g.CursorY = 100, 100
	g.clampCursor()
	if g.CursorX != 3 || g.CursorY != 1 {
		t.Fatalf("cursor = (%d,%d), want (3,1)", g.CursorX, g.CursorY)
	}
}

func TestGridEraseDisplay(t *testing.T) {
	g := NewGrid(3, 2, 0)
	for y := range g.cells {
		for x := range g.cells[y] {
			g.cells[y][x] = Cell{Char: 'x', Fg: ColorDefault, Bg: ColorDefault}
		}
	}
	g.CursorX, g.CursorY = 1, 0
	g.EraseDisplay(2)
	for y := range g.cells {
		for x := range g.cells[y] {
			if g.cells[y][x].Char != ' ' {
				t.Fatalf("cell (%d,%d) not cleared", x, y)
			}
		}
	}
}

func TestGridAltScreenRoundtrip(t *testing.T) {
	g := NewGrid(3, 2, 0)
	g.cells[0][0] = Cell{Char: 'p', Fg: ColorDefault, Bg: ColorDefault}
	g.EnterAltScreen()
	g.cells[0][0] = Cell{Char: 'a', Fg: ColorDefault, Bg: ColorDefault}
	g.ExitAltScreen()
	if g.cells[0][0].Char != 'p' {
		t.Fatalf("primary screen content not restored, got %q", string(g.cells[0][0].Char))
	}
}

func TestGridSaveRestoreCursor(t *testing.T) {
	g := NewGrid(10, 10, 0)
	g.CursorX, g.CursorY = 5, 3
	g.SaveCursor()
	g.CursorX, g.CursorY = 0, 0
	g.RestoreCursor()
	if g.CursorX != 5 || g.CursorY != 3 {
		t.Fatalf("cursor after restore = (%d,%d), want (5,3)", g.CursorX, g.CursorY)
	}
}
