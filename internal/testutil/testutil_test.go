package testutil

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/ocr"
)

func TestGenerateCard(t *testing.T) {
	spec := DefaultCard()
	img, err := GenerateCard(spec)
	require.NoError(t, err)
	assert.Equal(t, spec.Width, img.Bounds().Dx())
	assert.Equal(t, spec.Height, img.Bounds().Dy())

	path := WriteCardPNG(t, t.TempDir(), spec)
	assert.FileExists(t, path)
}

func TestScriptedEngine(t *testing.T) {
	e := NewTextEngine("hello")
	text, err := e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)), ocr.PassConfig{PSM: 6})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, e.CallCount())
	assert.Equal(t, 6, e.Calls()[0].PSM)

	boom := errors.New("boom")
	_, err = NewFailingEngine(boom).Recognize(context.Background(), nil, ocr.PassConfig{})
	require.ErrorIs(t, err, boom)
}
