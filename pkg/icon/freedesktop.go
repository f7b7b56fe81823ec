package icon

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
)

// hicolorSizes are the freedesktop target sides.
var hicolorSizes = []int{16, 24, 32, 48, 64, 128, 256, 512}

// WriteFreedesktopTree writes the hicolor icon tree under root for every
// target side the source set supports (a source supports a side when its
// larger dimension is at least that side; tiny sources are not upscaled
// past their own size class). Returns the written paths.
func WriteFreedesktopTree(icons []Icon, root, appName string) ([]string, error) {
	if len(icons) == 0 {
		return nil, fmt.Errorf("no icon sources for freedesktop tree")
	}

	maxSide := 0
	for _, ic := range icons {
		if ic.Width > maxSide {
			maxSide = ic.Width
		}
		if ic.Height > maxSide {
			maxSide = ic.Height
		}
	}

	var written []string
	for _, side := range hicolorSizes {
		if side > maxSide {
			continue
		}
		img, err := RenderFor(icons, side)
		if err != nil {
			return nil, err
		}

		dir := filepath.Join(root, "usr", "share", "icons", "hicolor",
			fmt.Sprintf("%dx%d", side, side), "apps")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating icon dir: %w", err)
		}
		path := filepath.Join(dir, appName+".png")
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("creating icon file: %w", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return nil, fmt.Errorf("encoding icon %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}
