package classifier

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/testutil"
)

func TestNew_HeuristicOnly(t *testing.T) {
	c, err := New(Config{HeuristicOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", c.Method())
	require.NoError(t, c.Close())
}

func TestNew_MissingModelFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", c.Method())
}

func TestNew_MissingModelWithoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	cfg.UseHeuristicFallback = false
	_, err := New(cfg)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "init", ce.Op)
}

func TestClassify_CardLikeImage(t *testing.T) {
	c, err := New(Config{HeuristicOnly: true, ConfidenceThreshold: 0.5})
	require.NoError(t, err)

	img, err := testutil.GenerateCard(testutil.DefaultCard())
	require.NoError(t, err)

	res, err := c.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", res.Method)
	assert.Equal(t, LabelIDCard, res.Label)
	assert.InDelta(t, 1.0, res.Scores[LabelIDCard]+res.Scores[LabelOther], 1e-9)
}

func TestClassify_BlankSquareIsNotCard(t *testing.T) {
	c, err := New(Config{HeuristicOnly: true, ConfidenceThreshold: 0.5})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	res, err := c.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, LabelOther, res.Label)
}

func TestClassify_LowConfidenceIsUnknown(t *testing.T) {
	c, err := New(Config{HeuristicOnly: true, ConfidenceThreshold: 1.01})
	require.NoError(t, err)
	img := image.NewGray(image.Rect(0, 0, 160, 100))
	img.SetGray(3, 3, color.Gray{Y: 0})
	res, err := c.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, LabelUnknown, res.Label)
}

func TestClassify_Errors(t *testing.T) {
	c, err := New(Config{HeuristicOnly: true})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), nil)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Classify(ctx, image.NewGray(image.Rect(0, 0, 4, 4)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFromLogits(t *testing.T) {
	res := fromLogits([]float32{0.1, 2.5}, []string{LabelIDCard, LabelOther})
	assert.Equal(t, LabelOther, res.Label)
	assert.Greater(t, res.Confidence, 0.5)
	assert.Equal(t, "onnx", res.Method)
}
