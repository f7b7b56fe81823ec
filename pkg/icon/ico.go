package icon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/png"
	"os"
)

// icoSizes are the Windows standard icon sides.
var icoSizes = []int{16, 24, 32, 48, 64, 128, 256}

// WriteICO encodes a multi-size Windows icon. Entries are PNG-compressed,
// which every Windows version since Vista accepts.
func WriteICO(icons []Icon, outputPath string) error {
	if len(icons) == 0 {
		return fmt.Errorf("no icon sources for %s", outputPath)
	}

	payloads := make([][]byte, 0, len(icoSizes))
	for _, side := range icoSizes {
		img, err := RenderFor(icons, side)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("encoding %dx%d entry: %w", side, side, err)
		}
		payloads = append(payloads, buf.Bytes())
	}

	var out bytes.Buffer
	// ICONDIR: reserved, type 1 (icon), count.
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint16(len(icoSizes)))

	// Directory entries precede all image data.
	offset := 6 + 16*len(icoSizes)
	for i, side := range icoSizes {
		dim := byte(side)
		if side >= 256 {
			dim = 0 // 0 encodes 256 in the directory
		}
		out.WriteByte(dim)
		out.WriteByte(dim)
		out.WriteByte(0) // palette size
		out.WriteByte(0) // reserved
		binary.Write(&out, binary.LittleEndian, uint16(1))  // color planes
		binary.Write(&out, binary.LittleEndian, uint16(32)) // bits per pixel
		binary.Write(&out, binary.LittleEndian, uint32(len(payloads[i])))
		binary.Write(&out, binary.LittleEndian, uint32(offset))
		offset += len(payloads[i])
	}
	for _, p := range payloads {
		out.Write(p)
	}

	if err := os.WriteFile(outputPath, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing ico file: %w", err)
	}
	return nil
}
