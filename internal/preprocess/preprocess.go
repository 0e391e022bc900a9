// Package preprocess derives the single-channel image variants fed to text
// recognition. Every transform is pure: the source image is never modified.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Kind names a preprocessing transform.
type Kind string

const (
	KindOtsu      Kind = "otsu"
	KindAdaptive  Kind = "adaptive"
	KindDenoise   Kind = "denoise"
	KindBilateral Kind = "bilateral"
)

// AllKinds lists every supported transform in canonical order.
var AllKinds = []Kind{KindOtsu, KindAdaptive, KindDenoise, KindBilateral}

// DefaultKinds is the set recognised by default.
var DefaultKinds = []Kind{KindOtsu, KindAdaptive, KindBilateral}

// ParseKind validates a transform name.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown preprocessing variant %q", s)
}

// Options tunes the individual transforms.
type Options struct {
	AdaptiveBlockSize   int     // odd neighbourhood size for the local threshold
	AdaptiveC           float64 // constant subtracted from the local mean
	DenoiseRadius       int     // median window radius
	BilateralDiameter   int
	BilateralSigmaColor float64
	BilateralSigmaSpace float64
}

// DefaultOptions returns the parameters used for card scans.
func DefaultOptions() Options {
	return Options{
		AdaptiveBlockSize:   11,
		AdaptiveC:           2,
		DenoiseRadius:       1,
		BilateralDiameter:   9,
		BilateralSigmaColor: 75,
		BilateralSigmaSpace: 75,
	}
}

// Variant is one preprocessed view of the source image.
type Variant struct {
	Kind  Kind
	Image *image.Gray
}

// Apply converts img to grayscale and produces one variant per kind, in order.
func Apply(img image.Image, kinds []Kind, opts Options) ([]Variant, error) {
	if img == nil {
		return nil, errors.New("preprocess: nil image")
	}
	if img.Bounds().Empty() {
		return nil, errors.New("preprocess: empty image")
	}
	gray := Grayscale(img)
	variants := make([]Variant, 0, len(kinds))
	for _, k := range kinds {
		var out *image.Gray
		switch k {
		case KindOtsu:
			out = Otsu(gray)
		case KindAdaptive:
			out = AdaptiveThreshold(gray, opts.AdaptiveBlockSize, opts.AdaptiveC)
		case KindDenoise:
			out = MedianDenoise(gray, opts.DenoiseRadius)
		case KindBilateral:
			out = Bilateral(gray, opts.BilateralDiameter, opts.BilateralSigmaColor, opts.BilateralSigmaSpace)
		default:
			return nil, fmt.Errorf("preprocess: unknown variant %q", k)
		}
		variants = append(variants, Variant{Kind: k, Image: out})
	}
	return variants, nil
}

// Grayscale returns a luminance copy of img anchored at the origin.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return cloneGray(g)
	}
	return toGray(imaging.Grayscale(img))
}

// Invert returns the bitwise complement of g.
func Invert(g *image.Gray) *image.Gray {
	return mapPixels(g, func(v uint8) uint8 { return ^v })
}

// mapPixels applies fn to every pixel, returning an origin-anchored copy.
func mapPixels(g *image.Gray, fn func(uint8) uint8) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		src := g.Pix[y*g.Stride : y*g.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range src {
			dst[x] = fn(v)
		}
	}
	return out
}

// toGray collapses an NRGBA image whose channels are equal into a Gray.
func toGray(n *image.NRGBA) *image.Gray {
	b := n.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		src := n.Pix[y*n.Stride : y*n.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return out
}

func cloneGray(g *image.Gray) *image.Gray {
	return mapPixels(g, func(v uint8) uint8 { return v })
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
