package bundle

import (
	"image"
	"image/png"
	"os"
)

// writePNGFile encodes an image to a PNG on disk.
func writePNGFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
