package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
)

// ExtractFeatures decodes an image and reduces it to a grid x grid map of
// mean luminance in [0, 1], row-major. Each cell averages the block of
// pixels it covers; images smaller than the grid repeat pixels.
func ExtractFeatures(raw []byte, grid int) ([]float64, error) {
	if grid <= 0 {
		return nil, errors.New("feature grid must be > 0")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("empty image")
	}

	features := make([]float64, 0, grid*grid)
	for gy := 0; gy < grid; gy++ {
		y0, y1 := cellSpan(gy, grid, b.Min.Y, b.Dy())
		for gx := 0; gx < grid; gx++ {
			x0, x1 := cellSpan(gx, grid, b.Min.X, b.Dx())
			features = append(features, meanLuminance(img, image.Rect(x0, y0, x1, y1)))
		}
	}
	return features, nil
}

// cellSpan returns the half-open pixel range of cell i out of n along an
// axis starting at origin with the given length. The range is never empty.
func cellSpan(i, n, origin, length int) (int, int) {
	lo := i * length / n
	hi := (i + 1) * length / n
	if hi <= lo {
		hi = lo + 1
	}
	return origin + lo, origin + hi
}

func meanLuminance(img image.Image, r image.Rectangle) float64 {
	sum := 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			gray := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			sum += float64(gray.Y) / 0xffff
		}
	}
	return sum / float64(r.Dx()*r.Dy())
}
