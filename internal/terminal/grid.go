// Package terminal implements the Stream Follower and Terminal Emulator:
// it tails a session's stream-out file, drives a hand-rolled ANSI/VT
// parser over a fixed cols x rows viewport with scrollback, and encodes
// the current viewport into the binary snapshot format on demand.
//
// The parser is deliberately not delegated to a terminal-emulation
// library: the ESC/CSI/OSC/OSCEsc state-machine shape for tracking
// escape-sequence boundaries across chunks follows a plain-text ANSI
// scanner, while the cell grid, viewport math, and snapshot wire format
// are purpose-built for a fixed cols x rows viewport with scrollback
// rather than a full terminal emulation.
package terminal

import "github.com/mattn/go-runewidth"

// Attribute bit flags for Cell.Attributes.
const (
	AttrBold uint8 = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrInverse
	AttrInvisible
	AttrStrikethrough
)

// ColorDefault is the fg/bg sentinel meaning "use the default color".
const ColorDefault int32 = -1

// rgbTag is ORed into a color value to mark it truecolor instead of a
// 0-255 palette index, keeping both representations in one int32 field
// tagged out of the palette range.
const rgbTag int32 = 1 << 24

func rgbColor(r, g, b byte) int32 {
	return rgbTag | int32(r)<<16 | int32(g)<<8 | int32(b)
}

func isRGB(c int32) bool { return c >= rgbTag }

func rgbParts(c int32) (r, g, b byte) {
	return byte(c >> 16), byte(c >> 8), byte(c)
}

// Cell is one screen position: a rune plus its foreground/background
// color and attribute bitset.
type Cell struct {
	Char       rune
	Fg         int32
	Bg         int32
	Attributes uint8
}

func blankCell() Cell {
	return Cell{Char: ' ', Fg: ColorDefault, Bg: ColorDefault}
}

// sgrState is the parser's current pen: the attributes/colors applied
// to the next cell written.
type sgrState struct {
	fg, bg     int32
	attributes uint8
}

func defaultSGR() sgrState {
	return sgrState{fg: ColorDefault, bg: ColorDefault}
}

// Grid is the mutable screen state: a fixed cols x rows viewport, a
// bounded scrollback buffer of rows pushed off the top, cursor
// position, scroll region, saved-cursor slot, and current pen.
//
// Parsing holds Grid's mutation exclusively; snapshot encoding takes a
// read lock on the same per-Emulator mutex. The lock itself lives in
// Emulator, not here — Grid is a plain value type so tests can exercise
// it without synchronization.
type Grid struct {
	Cols, Rows int
	cells      [][]Cell

	scrollback    [][]Cell
	scrollbackCap int

	CursorX, CursorY int
	scrollTop         int // inclusive
	scrollBottom      int // inclusive

	pen sgrState

	savedCursorX, savedCursorY int
	savedPen                   sgrState
	hasSavedCursor             bool

	altScreen     bool
	altCells      [][]Cell
	cursorVisible bool
}

// NewGrid constructs a blank Grid of the given dimensions with the given
// scrollback capacity (rows).
func NewGrid(cols, rows, scrollbackCap int) *Grid {
	g := &Grid{
		Cols: cols, Rows: rows,
		scrollbackCap: scrollbackCap,
		pen:           defaultSGR(),
		cursorVisible: true,
	}
	g.cells = makeRows(rows, cols)
	g.scrollTop, g.scrollBottom = 0, rows-1
	return g
}

func makeRows(rows, cols int) [][]Cell {
	out := make([][]Cell, rows)
	for y := range out {
		out[y] = makeRow(cols)
	}
	return out
}

func makeRow(cols int) []Cell {
	row := make([]Cell, cols)
	for x := range row {
		row[x] = blankCell()
	}
	return row
}

func (g *Grid) clampCursor() {
	if g.CursorX < 0 {
		g.CursorX = 0
	}
	if g.CursorX >= g.Cols {
		g.CursorX = g.Cols - 1
	}
	if g.CursorY < 0 {
		g.CursorY = 0
	}
	if g.CursorY >= g.Rows {
		g.CursorY = g.Rows - 1
	}
}

// Put writes r at the cursor with the current pen, advancing the
// cursor by r's display width and wrapping/scrolling at the right edge.
// Zero-width runes (combining marks) are dropped rather than occupying
// a cell of their own, since Cell holds a single rune; wide runes
// occupy two cells, with the trailing cell left blank as a
// continuation placeholder.
func (g *Grid) Put(r rune) {
	width := runewidth.RuneWidth(r)
	if width == 0 {
		return
	}
	if g.CursorX >= g.Cols {
		g.newline()
		g.CursorX = 0
	}
	g.cells[g.CursorY][g.CursorX] = Cell{Char: r, Fg: g.pen.fg, Bg: g.pen.bg, Attributes: g.pen.attributes}
	g.CursorX++
	if width > 1 && g.CursorX < g.Cols {
		g.cells[g.CursorY][g.CursorX] = Cell{Char: 0, Fg: g.pen.fg, Bg: g.pen.bg, Attributes: g.pen.attributes}
		g.CursorX++
	}
}

// newline moves the cursor down one row, scrolling the scroll region
// (and pushing the top row into scrollback) if already at its bottom.
func (g *Grid) newline() {
	if g.CursorY == g.scrollBottom {
		g.scrollUp(1)
		return
	}
	if g.CursorY < g.Rows-1 {
		g.CursorY++
	}
}

// scrollUp scrolls the scroll region up by n rows, pushing rows that
// leave the top of the (full-screen, top-of-region) scroll region into
// scrollback. Only rows scrolled off the primary screen's top accrue to
// scrollback; alt-screen scrolling does not, matching real terminals.
func (g *Grid) scrollUp(n int) {
	for i := 0; i < n; i++ {
		if !g.altScreen && g.scrollTop == 0 {
			g.pushScrollback(g.cells[g.scrollTop])
		}
		copy(g.cells[g.scrollTop:g.scrollBottom], g.cells[g.scrollTop+1:g.scrollBottom+1])
		g.cells[g.scrollBottom] = makeRow(g.Cols)
	}
}

// scrollDown scrolls the scroll region down by n rows (used by
// reverse-index / line-insert at the top).
func (g *Grid) scrollDown(n int) {
	for i := 0; i < n; i++ {
		copy(g.cells[g.scrollTop+1:g.scrollBottom+1], g.cells[g.scrollTop:g.scrollBottom])
		g.cells[g.scrollTop] = makeRow(g.Cols)
	}
}

func (g *Grid) pushScrollback(row []Cell) {
	if g.scrollbackCap <= 0 {
		return
	}
	cp := make([]Cell, len(row))
	copy(cp, row)
	g.scrollback = append(g.scrollback, cp)
	if len(g.scrollback) > g.scrollbackCap {
		g.scrollback = g.scrollback[len(g.scrollback)-g.scrollbackCap:]
	}
}

// Resize changes viewport dimensions to match an "r" stream event:
// growing cols right-pads with blanks, shrinking cols truncates (no
// soft-wrap reconstruction); growing/shrinking rows adds/removes blank
// rows at the bottom. Cursor is clamped afterward.
func (g *Grid) Resize(cols, rows int) {
	if cols == g.Cols && rows == g.Rows {
		return
	}
	newCells := makeRows(rows, cols)
	copyRows := rows
	if g.Rows < copyRows {
		copyRows = g.Rows
	}
	copyCols := cols
	if g.Cols < copyCols {
		copyCols = g.Cols
	}
	for y := 0; y < copyRows; y++ {
		copy(newCells[y][:copyCols], g.cells[y][:copyCols])
	}
	g.cells = newCells
	g.Cols, g.Rows = cols, rows
	g.scrollTop, g.scrollBottom = 0, rows-1
	g.clampCursor()
}

// EraseDisplay implements ED with mode 0 (cursor..end), 1 (start..cursor)
// or 2 (whole screen).
func (g *Grid) EraseDisplay(mode int) {
	switch mode {
	case 0:
		g.eraseLineFrom(g.CursorY, g.CursorX, g.Cols)
		for y := g.CursorY + 1; y < g.Rows; y++ {
			g.cells[y] = makeRow(g.Cols)
		}
	case 1:
		for y := 0; y < g.CursorY; y++ {
			g.cells[y] = makeRow(g.Cols)
		}
		g.eraseLineFrom(g.CursorY, 0, g.CursorX+1)
	case 2, 3:
		g.cells = makeRows(g.Rows, g.Cols)
	}
}

// EraseLine implements EL with mode 0/1/2.
func (g *Grid) EraseLine(mode int) {
	switch mode {
	case 0:
		g.eraseLineFrom(g.CursorY, g.CursorX, g.Cols)
	case 1:
		g.eraseLineFrom(g.CursorY, 0, g.CursorX+1)
	case 2:
		g.eraseLineFrom(g.CursorY, 0, g.Cols)
	}
}

func (g *Grid) eraseLineFrom(y, from, to int) {
	if y < 0 || y >= g.Rows {
		return
	}
	if from < 0 {
		from = 0
	}
	if to > g.Cols {
		to = g.Cols
	}
	for x := from; x < to; x++ {
		g.cells[y][x] = blankCell()
	}
}

// InsertLines/DeleteLines implement IL/DL within the scroll region.
func (g *Grid) InsertLines(n int) {
	if g.CursorY < g.scrollTop || g.CursorY > g.scrollBottom {
		return
	}
	top := g.scrollTop
	g.scrollTop = g.CursorY
	g.scrollDown(n)
	g.scrollTop = top
}

func (g *Grid) DeleteLines(n int) {
	if g.CursorY < g.scrollTop || g.CursorY > g.scrollBottom {
		return
	}
	top := g.scrollTop
	g.scrollTop = g.CursorY
	g.scrollUp(n)
	g.scrollTop = top
}

// InsertChars/DeleteChars implement ICH/DCH on the current row.
func (g *Grid) InsertChars(n int) {
	row := g.cells[g.CursorY]
	if g.CursorX >= len(row) {
		return
	}
	end := len(row) - n
	if end < g.CursorX {
		end = g.CursorX
	}
	copy(row[g.CursorX+n:], row[g.CursorX:end])
	for x := g.CursorX; x < g.CursorX+n && x < len(row); x++ {
		row[x] = blankCell()
	}
}

func (g *Grid) DeleteChars(n int) {
	row := g.cells[g.CursorY]
	if g.CursorX >= len(row) {
		return
	}
	copy(row[g.CursorX:], row[g.CursorX+n:])
	for x := len(row) - n; x < len(row); x++ {
		if x >= g.CursorX {
			row[x] = blankCell()
		}
	}
}

// SetScrollRegion implements DECSTBM; 1-based inclusive input, 0 means
// "whole screen" for either bound.
func (g *Grid) SetScrollRegion(top, bottom int) {
	if top <= 0 {
		top = 1
	}
	if bottom <= 0 || bottom > g.Rows {
		bottom = g.Rows
	}
	if top >= bottom {
		g.scrollTop, g.scrollBottom = 0, g.Rows-1
		return
	}
	g.scrollTop, g.scrollBottom = top-1, bottom-1
	g.CursorX, g.CursorY = 0, g.scrollTop
}

// SaveCursor/RestoreCursor implement DECSC/DECRC.
func (g *Grid) SaveCursor() {
	g.savedCursorX, g.savedCursorY = g.CursorX, g.CursorY
	g.savedPen = g.pen
	g.hasSavedCursor = true
}

func (g *Grid) RestoreCursor() {
	if !g.hasSavedCursor {
		g.CursorX, g.CursorY = 0, 0
		return
	}
	g.CursorX, g.CursorY = g.savedCursorX, g.savedCursorY
	g.pen = g.savedPen
	g.clampCursor()
}

// EnterAltScreen/ExitAltScreen implement DEC private mode 1049.
func (g *Grid) EnterAltScreen() {
	if g.altScreen {
		return
	}
	g.altCells = g.cells
	g.cells = makeRows(g.Rows, g.Cols)
	g.altScreen = true
}

func (g *Grid) ExitAltScreen() {
	if !g.altScreen {
		return
	}
	g.cells = g.altCells
	g.altCells = nil
	g.altScreen = false
}

// SetCursorVisible implements DEC private mode 25.
func (g *Grid) SetCursorVisible(v bool) { g.cursorVisible = v }
