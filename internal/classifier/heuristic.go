package classifier

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// idCardAspect is the ISO/IEC 7810 ID-1 long-to-short side ratio.
const idCardAspect = 85.60 / 53.98

// heuristic scores how card-like img is from its aspect ratio and the
// density of luminance transitions, which printed text produces.
func heuristic(img image.Image) Result {
	b := img.Bounds()
	long, short := float64(max(b.Dx(), b.Dy())), float64(min(b.Dx(), b.Dy()))
	aspect := long / short
	aspectScore := math.Exp(-math.Pow((aspect-idCardAspect)/0.35, 2))

	thumb := imaging.Grayscale(imaging.Resize(img, 128, 0, imaging.Box))
	tb := thumb.Bounds()
	w, h := tb.Dx(), tb.Dy()

	var sum float64
	for y := range h {
		for x := range w {
			sum += float64(thumb.Pix[y*thumb.Stride+x*4])
		}
	}
	mean := sum / float64(w*h)

	transitions := 0
	for y := range h {
		prev := thumb.Pix[y*thumb.Stride] < uint8(mean)
		for x := 1; x < w; x++ {
			cur := thumb.Pix[y*thumb.Stride+x*4] < uint8(mean)
			if cur != prev {
				transitions++
			}
			prev = cur
		}
	}
	density := float64(transitions) / float64(w*h)
	textScore := math.Min(1, density/0.04)

	p := 0.6*aspectScore + 0.4*textScore
	res := Result{
		Method: "heuristic",
		Scores: map[string]float64{LabelIDCard: p, LabelOther: 1 - p},
	}
	if p >= 0.5 {
		res.Label, res.Confidence = LabelIDCard, p
	} else {
		res.Label, res.Confidence = LabelOther, 1-p
	}
	return res
}
