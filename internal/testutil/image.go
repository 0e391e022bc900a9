package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// CardSpec describes a synthetic identity card.
type CardSpec struct {
	Lines      []string
	Width      int
	Height     int
	Scale      int // integer upscale applied to the rendered text
	Background color.Color
	Foreground color.Color
}

// DefaultCard returns a card with the usual printed fields.
func DefaultCard() CardSpec {
	return CardSpec{
		Lines: []string{
			"GOVERNMENT OF INDIA",
			"Name: John Andrew Smith",
			"DOB: 05/03/1999",
			"MALE",
			"2345 6789 0123",
		},
		Width:      428,
		Height:     270,
		Scale:      2,
		Background: color.RGBA{R: 240, G: 238, B: 230, A: 255},
		Foreground: color.Black,
	}
}

// GenerateCard renders spec with the basic bitmap font. The text is drawn at
// native size and upscaled so glyph strokes survive thresholding.
func GenerateCard(spec CardSpec) (*image.NRGBA, error) {
	scale := max(spec.Scale, 1)
	w, h := max(spec.Width/scale, 1), max(spec.Height/scale, 1)
	bg, fg := spec.Background, spec.Foreground
	if bg == nil {
		bg = color.White
	}
	if fg == nil {
		fg = color.Black
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: canvas, Src: &image.Uniform{fg}, Face: face}
	lineHeight := face.Metrics().Height.Ceil() + 4
	for i, line := range spec.Lines {
		d.Dot = fixed.P(8, 16+i*lineHeight)
		d.DrawString(line)
	}
	return imaging.Resize(canvas, spec.Width, spec.Height, imaging.NearestNeighbor), nil
}

// WriteCardPNG renders spec into dir and returns the file path.
func WriteCardPNG(t *testing.T, dir string, spec CardSpec) string {
	t.Helper()
	img, err := GenerateCard(spec)
	require.NoError(t, err)
	path := filepath.Join(dir, "card.png")
	SaveImage(t, img, path)
	return path
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	f, err := os.Create(path) //nolint:gosec // test-controlled path
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, png.Encode(f, img))
}
