package terminal

import (
	"bytes"
	"encoding/binary"
)

// Snapshot wire format constants. This layout is a stable wire
// contract: do not reorder or resize any field.
const (
	snapshotMagic0 = 0x56 // 'V'
	snapshotMagic1 = 0x54 // 'T'
	snapshotVersion = 1

	markerEmptyRows  = 0xFE
	markerContentRow = 0xFD
)

// cellTypeFlags make up a cell's leading type byte in the encoded
// snapshot.
const (
	flagHasExtended = 0x80
	flagIsUnicode   = 0x40
	flagHasFg       = 0x20
	flagHasBg       = 0x10
	flagFgIsRGB     = 0x08
	flagBgIsRGB     = 0x04
	flagASCII       = 0x01
	flagUnicode     = 0x02
)

// Encode serializes the viewport (the bottom Rows of cells, since the
// Grid only ever holds the live viewport plus a separate scrollback
// slice) into the binary snapshot format. viewportY is always 0 here:
// the Grid has no notion of a scrolled-back view offset of its own — it
// always reports the live screen, leaving scrollback-aware views to a
// caller that wants them.
func (g *Grid) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(32 + g.Rows*g.Cols/4)

	buf.WriteByte(snapshotMagic0)
	buf.WriteByte(snapshotMagic1)
	buf.WriteByte(snapshotVersion)
	buf.WriteByte(0) // flags, reserved

	writeU32(&buf, uint32(g.Cols))
	writeU32(&buf, uint32(g.Rows))
	writeI32(&buf, 0) // viewportY
	writeI32(&buf, int32(g.CursorX))
	writeI32(&buf, int32(g.CursorY))
	buf.Write(make([]byte, 8)) // reserved

	emptyRun := 0
	flushEmpty := func() {
		for emptyRun > 0 {
			n := emptyRun
			if n > 255 {
				n = 255
			}
			buf.WriteByte(markerEmptyRows)
			buf.WriteByte(byte(n))
			emptyRun -= n
		}
	}

	for y := 0; y < g.Rows; y++ {
		row := g.cells[y]
		last := lastNonBlank(row)
		if last < 0 {
			emptyRun++
			continue
		}
		flushEmpty()
		encodeRow(&buf, row[:last+1])
	}
	flushEmpty()

	return buf.Bytes()
}

func lastNonBlank(row []Cell) int {
	for i := len(row) - 1; i >= 0; i-- {
		c := row[i]
		if c.Char != ' ' && c.Char != 0 || c.Fg != ColorDefault || c.Bg != ColorDefault || c.Attributes != 0 {
			return i
		}
	}
	return -1
}

func encodeRow(buf *bytes.Buffer, row []Cell) {
	buf.WriteByte(markerContentRow)
	writeU16(buf, uint16(len(row)))
	for _, c := range row {
		encodeCell(buf, c)
	}
}

func encodeCell(buf *bytes.Buffer, c Cell) {
	if (c.Char == ' ' || c.Char == 0) && c.Fg == ColorDefault && c.Bg == ColorDefault && c.Attributes == 0 {
		buf.WriteByte(0x00)
		return
	}

	ch := c.Char
	if ch == 0 {
		ch = ' '
	}
	hasExtended := c.Fg != ColorDefault || c.Bg != ColorDefault || c.Attributes != 0

	var typ byte
	var charBytes []byte
	if ch < 0x80 {
		typ |= flagASCII
		charBytes = []byte{byte(ch)}
	} else {
		typ |= flagUnicode | flagIsUnicode
		charBytes = []byte(string(ch))
	}
	if hasExtended {
		typ |= flagHasExtended
	}
	if c.Fg != ColorDefault {
		typ |= flagHasFg
		if isRGB(c.Fg) {
			typ |= flagFgIsRGB
		}
	}
	if c.Bg != ColorDefault {
		typ |= flagHasBg
		if isRGB(c.Bg) {
			typ |= flagBgIsRGB
		}
	}

	buf.WriteByte(typ)
	if typ&flagASCII != 0 {
		buf.WriteByte(charBytes[0])
	} else {
		buf.WriteByte(byte(len(charBytes)))
		buf.Write(charBytes)
	}

	if !hasExtended {
		return
	}
	buf.WriteByte(c.Attributes)
	if c.Fg != ColorDefault {
		writeColor(buf, c.Fg)
	}
	if c.Bg != ColorDefault {
		writeColor(buf, c.Bg)
	}
}

func writeColor(buf *bytes.Buffer, c int32) {
	if isRGB(c) {
		r, g, b := rgbParts(c)
		buf.WriteByte(r)
		buf.WriteByte(g)
		buf.WriteByte(b)
		return
	}
	buf.WriteByte(byte(c))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}
