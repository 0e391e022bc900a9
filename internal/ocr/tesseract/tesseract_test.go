package tesseract

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/ocr"
)

var _ ocr.Engine = (*Engine)(nil)

func TestRecognize_CanceledContext(t *testing.T) {
	e := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Recognize(ctx, image.NewGray(image.Rect(0, 0, 4, 4)), ocr.PassConfig{Language: "eng"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestName(t *testing.T) {
	assert.Equal(t, "tesseract", New(Options{}).Name())
}
