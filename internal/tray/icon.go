package tray

import (
	"bytes"
	"encoding/binary"
)

// pngToICO wraps a 32x32 PNG in a single-image ICO container, which the
// Windows tray requires.
func pngToICO(png []byte) []byte {
	var buf bytes.Buffer
	// ICONDIR: reserved, type 1 (icon), one image.
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY: 32x32, no palette, 1 plane, 32 bpp, size, offset.
	buf.Write([]byte{32, 32, 0, 0})
	_ = binary.Write(&buf, binary.LittleEndian, [2]uint16{1, 32})
	_ = binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(png)), 6 + 16})
	buf.Write(png)
	return buf.Bytes()
}
