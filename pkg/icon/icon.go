package icon

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
)

// nonSquarePenalty biases selection so a square source always beats a
// non-square one, regardless of size distance.
const nonSquarePenalty = 10000

// Icon is one PNG source image with its decoded dimensions.
type Icon struct {
	SourcePath string
	Width      int
	Height     int
}

// IsSquare reports whether width equals height.
func (i Icon) IsSquare() bool {
	return i.Width == i.Height
}

// score is the Manhattan distance to the target side plus the non-square
// penalty.
func (i Icon) score(target int) int {
	s := abs(i.Width-target) + abs(i.Height-target)
	if !i.IsSquare() {
		s += nonSquarePenalty
	}
	return s
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Load reads dimensions for each source path. Paths that do not exist or do
// not decode as PNG fail the load.
func Load(paths []string) ([]Icon, error) {
	icons := make([]Icon, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening icon %s: %w", p, err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding icon %s: %w", p, err)
		}
		icons = append(icons, Icon{SourcePath: p, Width: cfg.Width, Height: cfg.Height})
	}
	return icons, nil
}

// FindForSize selects the source whose score for the target side is lowest.
// Ties break toward the first source in iteration order. Returns nil for an
// empty set.
func FindForSize(icons []Icon, target int) *Icon {
	var best *Icon
	bestScore := 0
	for idx := range icons {
		s := icons[idx].score(target)
		if best == nil || s < bestScore {
			best = &icons[idx]
			bestScore = s
		}
	}
	return best
}

// Render decodes the chosen source and scales it to an exact square of the
// given side, RGBA8.
func Render(src Icon, side int) (*image.RGBA, error) {
	f, err := os.Open(src.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening icon %s: %w", src.SourcePath, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding icon %s: %w", src.SourcePath, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// RenderFor picks the nearest source for the side and renders it.
func RenderFor(icons []Icon, side int) (*image.RGBA, error) {
	src := FindForSize(icons, side)
	if src == nil {
		return nil, fmt.Errorf("no icon sources available for side %d", side)
	}
	iconLogger := log.WithComponent("icon")
	iconLogger.Debug().
		Str("source", src.SourcePath).Int("side", side).Msg("rendering icon")
	return Render(*src, side)
}
