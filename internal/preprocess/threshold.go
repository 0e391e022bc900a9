package preprocess

import (
	"image"

	"github.com/disintegration/imaging"
)

// OtsuThreshold selects the global threshold that maximises between-class
// variance of the intensity histogram.
func OtsuThreshold(g *image.Gray) uint8 {
	var histogram [256]int
	total := 0
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := range h {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			histogram[v]++
			total++
		}
	}
	if total == 0 {
		return 0
	}

	var sum float64
	for i, c := range histogram {
		sum += float64(i) * float64(c)
	}

	var (
		sumB        float64
		wB          int
		maxVariance float64
		best        int
	)
	for t := range 256 {
		wB += histogram[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(histogram[t])
		meanB := sumB / float64(wB)
		meanF := (sum - sumB) / float64(wF)
		variance := float64(wB) * float64(wF) * (meanB - meanF) * (meanB - meanF)
		if variance > maxVariance {
			maxVariance = variance
			best = t
		}
	}
	return uint8(best) //nolint:gosec // best is a histogram index in [0,255]
}

// Otsu binarises g at its Otsu threshold: pixels above it become white.
func Otsu(g *image.Gray) *image.Gray {
	return binarize(g, OtsuThreshold(g))
}

func binarize(g *image.Gray, t uint8) *image.Gray {
	return mapPixels(g, func(v uint8) uint8 {
		if v > t {
			return 255
		}
		return 0
	})
}

// AdaptiveThreshold compares each pixel against a Gaussian-weighted mean of
// its blockSize neighbourhood minus c.
func AdaptiveThreshold(g *image.Gray, blockSize int, c float64) *image.Gray {
	if blockSize < 3 {
		blockSize = 3
	}
	if blockSize%2 == 0 {
		blockSize++
	}
	// Sigma derived from the kernel size the same way OpenCV does for ksize>0.
	sigma := 0.3*((float64(blockSize)-1)*0.5-1) + 0.8
	mean := toGray(imaging.Blur(g, sigma))

	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := float64(g.Pix[y*g.Stride+x])
			m := float64(mean.Pix[y*mean.Stride+x])
			if v > m-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
