package preprocess

import (
	"image"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genGray(w, h int, seed int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8((i*31 + seed*17) % 256)
	}
	return g
}

func TestInvert_IsInvolution(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("invert twice restores pixels", prop.ForAll(
		func(w, h, seed int) bool {
			g := genGray(w, h, seed)
			back := Invert(Invert(g))
			for i := range g.Pix {
				if g.Pix[i] != back.Pix[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 40),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestApply_IsDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("identical pixels give identical variants", prop.ForAll(
		func(w, h, seed int) bool {
			g := genGray(w, h, seed)
			a, err := Apply(g, AllKinds, DefaultOptions())
			if err != nil {
				return false
			}
			b, err := Apply(g, AllKinds, DefaultOptions())
			if err != nil {
				return false
			}
			for i := range a {
				if string(a[i].Image.Pix) != string(b[i].Image.Pix) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 24),
		gen.IntRange(1, 24),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestOtsu_IsBinary(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("otsu output only holds 0 or 255", prop.ForAll(
		func(w, h, seed int) bool {
			for _, v := range Otsu(genGray(w, h, seed)).Pix {
				if v != 0 && v != 255 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.IntRange(1, 32),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
