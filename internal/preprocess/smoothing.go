package preprocess

import (
	"image"
	"math"

	"github.com/disintegration/gift"
)

// MedianDenoise replaces each pixel with the median of its (2r+1)² window,
// suppressing salt-and-pepper scanner noise while keeping stroke edges.
func MedianDenoise(g *image.Gray, radius int) *image.Gray {
	if radius < 1 {
		return cloneGray(g)
	}
	filter := gift.New(gift.Median(2*radius+1, false))
	out := image.NewGray(filter.Bounds(g.Bounds()).Sub(g.Bounds().Min))
	filter.Draw(out, g)
	return out
}

// Bilateral applies an edge-preserving bilateral filter with the given
// neighbourhood diameter and range/spatial sigmas.
func Bilateral(g *image.Gray, diameter int, sigmaColor, sigmaSpace float64) *image.Gray {
	if diameter <= 0 {
		diameter = int(math.Round(sigmaSpace * 1.5))
	}
	radius := max(diameter/2, 1)
	if sigmaColor <= 0 {
		sigmaColor = 1
	}
	if sigmaSpace <= 0 {
		sigmaSpace = 1
	}

	var colorWeight [256]float64
	for i := range colorWeight {
		d := float64(i)
		colorWeight[i] = math.Exp(-(d * d) / (2 * sigmaColor * sigmaColor))
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	taps := make([]tap, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if r2 > float64(radius*radius) {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(-r2 / (2 * sigmaSpace * sigmaSpace))})
		}
	}

	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			center := int(g.Pix[y*g.Stride+x])
			var sum, norm float64
			for _, t := range taps {
				yy := clampInt(y+t.dy, 0, h-1)
				xx := clampInt(x+t.dx, 0, w-1)
				v := int(g.Pix[yy*g.Stride+xx])
				diff := v - center
				if diff < 0 {
					diff = -diff
				}
				wt := t.w * colorWeight[diff]
				sum += wt * float64(v)
				norm += wt
			}
			out.Pix[y*out.Stride+x] = uint8(math.Round(sum / norm)) //nolint:gosec // weighted mean of uint8 values
		}
	}
	return out
}
