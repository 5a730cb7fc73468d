package terminal

import "unicode/utf8"

// parser states: normal/esc/csi/osc/osc-esc, extended with full CSI
// parameter/intermediate accumulation and a DCS/ignore sink, since this
// parser must actually execute the sequences it recognizes rather than
// just scan past them.
const (
	stateGround = iota
	stateEscape
	stateCSI
	stateOSC
	stateOSCEsc
	stateIgnore // DCS/APC/PM/SOS strings: consumed, discarded
)

// Parser drives a Grid from a byte stream of a practical ANSI/VT100/xterm
// subset: cursor movement, SGR attributes and color, erase, scroll
// regions, and the DEC private modes terminal apps commonly rely on. It
// is not safe for concurrent use; the Emulator serializes all writes
// behind its own lock.
type Parser struct {
	grid *Grid

	state int
	// csiParams accumulates raw parameter bytes (digits and ';') for the
	// sequence currently being scanned; csiPrivate records a leading '?'
	// marking a DEC private-mode sequence.
	csiParams []byte
	csiInterm []byte
	csiPrivate bool

	pending []byte // incomplete multi-byte UTF-8 sequence carried across Write calls
}

// NewParser constructs a Parser writing into grid.
func NewParser(grid *Grid) *Parser {
	return &Parser{grid: grid}
}

// Write feeds a chunk of raw PTY output into the parser.
func (p *Parser) Write(data []byte) {
	if len(p.pending) > 0 {
		data = append(p.pending, data...)
		p.pending = nil
	}
	for len(data) > 0 {
		if p.state == stateGround {
			r, size := utf8.DecodeRune(data)
			if r == utf8.RuneError && size <= 1 && !utf8.FullRune(data) {
				// Incomplete trailing multi-byte sequence; wait for more bytes.
				p.pending = append(p.pending, data...)
				return
			}
			data = data[size:]
			p.feedGround(r)
			continue
		}
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		p.feedByte(byte(r))
	}
}

// feedGround handles one decoded rune while in the ground state: C0
// controls drive cursor motion, ESC starts an escape sequence, anything
// printable (including non-ASCII runes) is written to the grid.
func (p *Parser) feedGround(r rune) {
	switch r {
	case 0x1b:
		p.state = stateEscape
		p.csiParams = p.csiParams[:0]
		p.csiInterm = p.csiInterm[:0]
		p.csiPrivate = false
	case '\b':
		if p.grid.CursorX > 0 {
			p.grid.CursorX--
		}
	case '\t':
		next := (p.grid.CursorX/8 + 1) * 8
		if next >= p.grid.Cols {
			next = p.grid.Cols - 1
		}
		p.grid.CursorX = next
	case '\n':
		p.grid.newline()
	case '\r':
		p.grid.CursorX = 0
	case 0x07:
		// bell, ignored
	default:
		if r >= 0x20 {
			p.grid.Put(r)
		}
	}
}

// feedByte handles one byte while inside an escape/CSI/OSC sequence.
// Sequence bytes are always in the ASCII range by construction (CSI
// parameter/intermediate/final bytes, OSC terminators), so operating
// byte-wise here is safe even though feedGround above is rune-wise.
func (p *Parser) feedByte(b byte) {
	switch p.state {
	case stateEscape:
		p.feedEscape(b)
	case stateCSI:
		p.feedCSI(b)
	case stateOSC:
		if b == 0x07 {
			p.state = stateGround
		} else if b == 0x1b {
			p.state = stateOSCEsc
		}
	case stateOSCEsc:
		if b == '\\' {
			p.state = stateGround
		} else if b != 0x1b {
			p.state = stateOSC
		}
	case stateIgnore:
		if b == 0x07 || b == '\\' {
			p.state = stateGround
		}
	}
}

func (p *Parser) feedEscape(b byte) {
	switch b {
	case '[':
		p.state = stateCSI
	case ']':
		p.state = stateOSC
	case 'P', '_', '^', 'X':
		// DCS / APC / PM / SOS: consumed and discarded
		p.state = stateIgnore
	case '7':
		p.grid.SaveCursor()
		p.state = stateGround
	case '8':
		p.grid.RestoreCursor()
		p.state = stateGround
	case 'M':
		// Reverse index: move up, scrolling down at the scroll-region top.
		if p.grid.CursorY == p.grid.scrollTop {
			p.grid.scrollDown(1)
		} else if p.grid.CursorY > 0 {
			p.grid.CursorY--
		}
		p.state = stateGround
	case 'c':
		// RIS (full reset): re-init in place.
		*p.grid = *NewGrid(p.grid.Cols, p.grid.Rows, p.grid.scrollbackCap)
		p.state = stateGround
	default:
		// Single-character ESC sequences not otherwise handled: drop.
		p.state = stateGround
	}
}

func (p *Parser) feedCSI(b byte) {
	switch {
	case b == '?' && len(p.csiParams) == 0 && len(p.csiInterm) == 0:
		p.csiPrivate = true
	case b >= '0' && b <= '9', b == ';':
		p.csiParams = append(p.csiParams, b)
	case b >= 0x20 && b <= 0x2f:
		p.csiInterm = append(p.csiInterm, b)
	case b >= 0x40 && b <= 0x7e:
		p.dispatchCSI(b)
		p.state = stateGround
	default:
		// Malformed sequence byte; abandon it.
		p.state = stateGround
	}
}

func (p *Parser) dispatchCSI(final byte) {
	params := parseParams(p.csiParams)
	g := p.grid

	if p.csiPrivate {
		p.dispatchPrivateMode(final, params)
		return
	}

	switch final {
	case 'A': // CUU
		g.CursorY -= paramOr(params, 0, 1)
		g.clampCursor()
	case 'B': // CUD
		g.CursorY += paramOr(params, 0, 1)
		g.clampCursor()
	case 'C': // CUF
		g.CursorX += paramOr(params, 0, 1)
		g.clampCursor()
	case 'D': // CUB
		g.CursorX -= paramOr(params, 0, 1)
		g.clampCursor()
	case 'E': // CNL
		g.CursorY += paramOr(params, 0, 1)
		g.CursorX = 0
		g.clampCursor()
	case 'F': // CPL
		g.CursorY -= paramOr(params, 0, 1)
		g.CursorX = 0
		g.clampCursor()
	case 'G', '`': // CHA
		g.CursorX = paramOr(params, 0, 1) - 1
		g.clampCursor()
	case 'H', 'f': // CUP / HVP
		g.CursorY = paramOr(params, 0, 1) - 1
		g.CursorX = paramOr(params, 1, 1) - 1
		g.clampCursor()
	case 'd': // VPA
		g.CursorY = paramOr(params, 0, 1) - 1
		g.clampCursor()
	case 'J': // ED
		g.EraseDisplay(paramOr(params, 0, 0))
	case 'K': // EL
		g.EraseLine(paramOr(params, 0, 0))
	case 'L': // IL
		g.InsertLines(paramOr(params, 0, 1))
	case 'M': // DL
		g.DeleteLines(paramOr(params, 0, 1))
	case 'P': // DCH
		g.DeleteChars(paramOr(params, 0, 1))
	case '@': // ICH
		g.InsertChars(paramOr(params, 0, 1))
	case 'S': // SU: scroll up n
		g.scrollUp(paramOr(params, 0, 1))
	case 'T': // SD: scroll down n
		g.scrollDown(paramOr(params, 0, 1))
	case 'm': // SGR
		p.applySGR(params)
	case 'r': // DECSTBM
		top := paramOr(params, 0, 1)
		bottom := paramOr(params, 1, g.Rows)
		g.SetScrollRegion(top, bottom)
	case 'n': // DSR
		// Device status report: replying goes out on the PTY master, but
		// the emulator has no write-back channel to the child, so this is
		// accepted and has no effect here.
	case 's': // SCOSC (ANSI.SYS save cursor), treated like DECSC
		g.SaveCursor()
	case 'u': // SCORC (ANSI.SYS restore cursor), treated like DECRC
		g.RestoreCursor()
	default:
		// Unknown final byte: consumed, nothing applied.
	}
}

// dispatchPrivateMode handles `CSI ? params h/l` (DEC private modes).
// Only alt-screen (1049) and cursor visibility (25) mutate state;
// bracketed paste (2004), application cursor keys (1), and mouse modes
// are recognized and otherwise ignored
func (p *Parser) dispatchPrivateMode(final byte, params []int) {
	if final != 'h' && final != 'l' {
		return
	}
	set := final == 'h'
	for _, mode := range params {
		switch mode {
		case 25:
			p.grid.SetCursorVisible(set)
		case 1049, 1047, 47:
			if set {
				p.grid.EnterAltScreen()
			} else {
				p.grid.ExitAltScreen()
			}
		}
	}
}

// applySGR interprets a CSI ... m parameter list, including the 256-color
// (38;5;n / 48;5;n) and truecolor (38;2;r;g;b / 48;2;r;g;b) extended forms.
func (p *Parser) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	pen := &p.grid.pen
	for i := 0; i < len(params); i++ {
		code := params[i]
		switch {
		case code == 0:
			*pen = defaultSGR()
		case code == 1:
			pen.attributes |= AttrBold
		case code == 2:
			pen.attributes |= AttrDim
		case code == 3:
			pen.attributes |= AttrItalic
		case code == 4:
			pen.attributes |= AttrUnderline
		case code == 7:
			pen.attributes |= AttrInverse
		case code == 8:
			pen.attributes |= AttrInvisible
		case code == 9:
			pen.attributes |= AttrStrikethrough
		case code == 22:
			pen.attributes &^= AttrBold | AttrDim
		case code == 23:
			pen.attributes &^= AttrItalic
		case code == 24:
			pen.attributes &^= AttrUnderline
		case code == 27:
			pen.attributes &^= AttrInverse
		case code == 28:
			pen.attributes &^= AttrInvisible
		case code == 29:
			pen.attributes &^= AttrStrikethrough
		case code >= 30 && code <= 37:
			pen.fg = int32(code - 30)
		case code == 38:
			n, consumed := parseExtendedColor(params[i+1:])
			pen.fg = n
			i += consumed
		case code == 39:
			pen.fg = ColorDefault
		case code >= 40 && code <= 47:
			pen.bg = int32(code - 40)
		case code == 48:
			n, consumed := parseExtendedColor(params[i+1:])
			pen.bg = n
			i += consumed
		case code == 49:
			pen.bg = ColorDefault
		case code >= 90 && code <= 97:
			pen.fg = int32(code - 90 + 8)
		case code >= 100 && code <= 107:
			pen.bg = int32(code - 100 + 8)
		}
	}
}

// parseExtendedColor parses the tail following a 38/48 code: either
// "5;n" (256-color palette) or "2;r;g;b" (truecolor). Returns the
// encoded color and how many extra params were consumed.
func parseExtendedColor(rest []int) (int32, int) {
	if len(rest) == 0 {
		return ColorDefault, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) >= 2 {
			return int32(rest[1]), 2
		}
	case 2:
		if len(rest) >= 4 {
			return rgbColor(byte(rest[1]), byte(rest[2]), byte(rest[3])), 4
		}
	}
	return ColorDefault, len(rest)
}

func parseParams(raw []byte) []int {
	if len(raw) == 0 {
		return nil
	}
	var out []int
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ';' {
			if i == start {
				out = append(out, 0)
			} else {
				out = append(out, atoi(raw[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func atoi(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func paramOr(params []int, idx, def int) int {
	if idx >= len(params) || params[idx] == 0 {
		return def
	}
	return params[idx]
}
