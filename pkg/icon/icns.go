package icon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/png"
	"os"
)

// icnsEntry maps an icon-family OSType to the pixel side it stores. Modern
// entries all take PNG payloads; the 2x types cover the retina variants.
type icnsEntry struct {
	osType string
	side   int
}

// The family distinguishes 1x and 2x up to 512; 1024 only exists as 512@2x.
var icnsEntries = []icnsEntry{
	{"icp4", 16},
	{"ic11", 32}, // 16x16@2x
	{"icp5", 32},
	{"ic12", 64}, // 32x32@2x
	{"icp6", 64},
	{"ic07", 128},
	{"ic13", 256}, // 128x128@2x
	{"ic08", 256},
	{"ic14", 512}, // 256x256@2x
	{"ic09", 512},
	{"ic10", 1024}, // 512x512@2x
}

// WriteICNS encodes the standard macOS icon family from the source set.
func WriteICNS(icons []Icon, outputPath string) error {
	if len(icons) == 0 {
		return fmt.Errorf("no icon sources for %s", outputPath)
	}

	var body bytes.Buffer
	for _, entry := range icnsEntries {
		img, err := RenderFor(icons, entry.side)
		if err != nil {
			return err
		}
		var payload bytes.Buffer
		if err := png.Encode(&payload, img); err != nil {
			return fmt.Errorf("encoding %s entry: %w", entry.osType, err)
		}

		body.WriteString(entry.osType)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(payload.Len()+8))
		body.Write(lenBuf[:])
		body.Write(payload.Bytes())
	}

	var out bytes.Buffer
	out.WriteString("icns")
	var totalBuf [4]byte
	binary.BigEndian.PutUint32(totalBuf[:], uint32(body.Len()+8))
	out.Write(totalBuf[:])
	out.Write(body.Bytes())

	if err := os.WriteFile(outputPath, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing icns file: %w", err)
	}
	return nil
}
