package pipeline

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/classifier"
	"github.com/MeKo-Tech/idcheck/internal/ocr"
	"github.com/MeKo-Tech/idcheck/internal/preprocess"
	"github.com/MeKo-Tech/idcheck/internal/testutil"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

const cardText = "GOVERNMENT OF INDIA\nName: John Andrew Smith\nDOB: 05/03/1999\nMALE\n2345 6789 0123"

var johnClaim = verify.Claim{Name: "John Andrew Smith", DOB: "1999-03-05", IDNumber: "2345 6789 0123"}

func cardImage(t *testing.T) image.Image {
	t.Helper()
	img, err := testutil.GenerateCard(testutil.DefaultCard())
	require.NoError(t, err)
	return img
}

func build(t *testing.T, engine ocr.Engine, opts ...func(*Builder)) *Pipeline {
	t.Helper()
	b := NewBuilder().WithEngine(engine).
		WithClock(func() time.Time { return time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC) })
	for _, o := range opts {
		o(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func passesPerVariant() int {
	return len(ocr.DefaultConfig().AlternativePSMs) + 2
}

func TestVerify_CardLayouts(t *testing.T) {
	layouts := []struct {
		name string
		text string
	}{
		{"name dob id", "Name: John Andrew Smith\nDOB: 05/03/1999\n2345 6789 0123"},
		{"dob and id share a line", "Name: John Andrew Smith\nDOB: 05/03/1999 2345 6789 0123"},
		{"phone before id", "Name: John Andrew Smith\nDOB: 05/03/1999\nPhone 98765\n2345 6789 0123"},
	}
	for _, tc := range layouts {
		t.Run(tc.name, func(t *testing.T) {
			res := build(t, testutil.NewTextEngine(tc.text)).
				Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
			require.True(t, res.Success, res.Error)
			require.NotNil(t, res.Report)
			require.NotNil(t, res.Extracted)
			assert.Equal(t, "234567890123", res.Extracted.IDNumber)
			assert.True(t, res.AllMatch, "report %+v, extracted %+v", *res.Report, *res.Extracted)
		})
	}
}

func TestBuild_RequiresEngine(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	_, err := NewBuilder().WithEngine(testutil.NewTextEngine("")).WithVariants().Build()
	require.Error(t, err)

	_, err = NewBuilder().WithEngine(testutil.NewTextEngine("")).
		WithVariants(preprocess.Kind("sharpen")).Build()
	require.Error(t, err)
}

func TestVerify_AllFieldsMatch(t *testing.T) {
	engine := testutil.NewTextEngine(cardText)
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Report)

	assert.True(t, res.NameMatch)
	assert.True(t, res.DOBMatch)
	assert.True(t, res.IDMatch)
	assert.True(t, res.AllMatch)
	assert.True(t, res.Verified())
	assert.Equal(t, "John Andrew Smith", res.Extracted.Name)
	assert.Equal(t, "05-03-1999", res.Extracted.DOB)
	assert.Equal(t, "234567890123", res.Extracted.IDNumber)
	require.NotNil(t, res.Age)
	assert.Equal(t, 27, *res.Age)
	assert.False(t, res.IsTeen)
	assert.NotEmpty(t, res.RequestID)
}

func TestVerify_ShortCircuitsOnceComplete(t *testing.T) {
	engine := testutil.NewTextEngine(cardText)
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success)
	assert.Equal(t, []string{"otsu"}, res.Variants)
	assert.Equal(t, passesPerVariant(), engine.CallCount())
	assert.NotContains(t, res.DebugText, "\n---\n")
}

func TestVerify_RecognizeAllKeepsFirstValues(t *testing.T) {
	engine := testutil.NewTextEngine(cardText)
	p := build(t, engine, func(b *Builder) {
		cfg := DefaultConfig()
		cfg.RecognizeAll = true
		b.WithConfig(cfg)
	})

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success)
	assert.Len(t, res.Variants, 3)
	assert.Equal(t, 3*passesPerVariant(), engine.CallCount())
	assert.Equal(t, 2, strings.Count(res.DebugText, "\n---\n"))
	assert.True(t, res.AllMatch)
}

func TestVerify_FieldsAccumulateAcrossVariants(t *testing.T) {
	per := passesPerVariant()
	engine := &testutil.ScriptedEngine{Reply: func(call int, _ ocr.PassConfig) (string, error) {
		switch call / per {
		case 0:
			return "Name: John Andrew Smith", nil
		case 1:
			return "DOB: 05/03/1999", nil
		default:
			return "2345 6789 0123", nil
		}
	}}
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"otsu", "adaptive", "bilateral"}, res.Variants)
	assert.Equal(t, "John Andrew Smith", res.Extracted.Name)
	assert.Equal(t, "05-03-1999", res.Extracted.DOB)
	assert.Equal(t, "234567890123", res.Extracted.IDNumber)
	assert.True(t, res.AllMatch)
}

func TestVerify_MissingDOBNeverMatches(t *testing.T) {
	p := build(t, testutil.NewTextEngine("Name: John Andrew Smith\n2345 6789 0123"))

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success)
	assert.True(t, res.NameMatch)
	assert.True(t, res.IDMatch)
	assert.False(t, res.DOBMatch)
	assert.False(t, res.AllMatch)
	assert.Nil(t, res.Age)
	assert.Empty(t, res.Extracted.DOB)

	js, err := ToJSON(res)
	require.NoError(t, err)
	assert.Contains(t, js, `"dob": null`)
}

func TestVerify_IDMismatchByOneDigit(t *testing.T) {
	p := build(t, testutil.NewTextEngine(cardText))
	claim := johnClaim
	claim.IDNumber = "234567890124"

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: claim})
	require.True(t, res.Success)
	assert.False(t, res.IDMatch)
	assert.False(t, res.AllMatch)
}

func TestVerify_UnreadableImage(t *testing.T) {
	engine := testutil.NewTextEngine(cardText)
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{ImagePath: "/nonexistent/card.png", Claim: johnClaim})
	assert.False(t, res.Success)
	assert.Nil(t, res.Report)
	assert.Nil(t, res.Extracted)
	assert.True(t, strings.HasPrefix(res.Error, "Could not read image file"), res.Error)
	assert.Zero(t, engine.CallCount())

	js, err := ToJSON(res)
	require.NoError(t, err)
	assert.NotContains(t, js, "all_match")
	assert.Contains(t, js, `"success": false`)
}

func TestVerify_InvalidClaimStopsBeforeRecognition(t *testing.T) {
	engine := testutil.NewTextEngine(cardText)
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: verify.Claim{DOB: "05/03/1999", IDNumber: "12"}})
	assert.False(t, res.Success)
	assert.True(t, res.IsInputError())
	assert.Contains(t, res.Error, "name")
	assert.Contains(t, res.Error, "id_number")
	assert.Zero(t, engine.CallCount())
}

func TestVerify_EngineFailureIsReported(t *testing.T) {
	p := build(t, testutil.NewFailingEngine(errors.New("tesseract crashed")))

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	assert.False(t, res.Success)
	assert.Nil(t, res.Report)
	assert.Contains(t, res.Error, "Verification failed")
	assert.Contains(t, res.Error, "tesseract crashed")
}

func TestVerify_EnginePanicIsRecovered(t *testing.T) {
	engine := &testutil.ScriptedEngine{Reply: func(int, ocr.PassConfig) (string, error) {
		panic("segfault in engine")
	}}
	p := build(t, engine)

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "segfault in engine")
}

func TestVerify_CanceledContext(t *testing.T) {
	p := build(t, testutil.NewTextEngine(cardText))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Verify(ctx, Request{Image: cardImage(t), Claim: johnClaim})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestVerify_IsIdempotent(t *testing.T) {
	p := build(t, testutil.NewTextEngine(cardText))
	img := cardImage(t)

	first := p.Verify(context.Background(), Request{Image: img, Claim: johnClaim})
	second := p.Verify(context.Background(), Request{Image: img, Claim: johnClaim})
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, *first.Report, *second.Report)
	assert.Equal(t, *first.Extracted, *second.Extracted)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestVerify_TeenFromClock(t *testing.T) {
	p := build(t, testutil.NewTextEngine(cardText), func(b *Builder) {
		b.WithClock(func() time.Time { return time.Date(2014, time.June, 1, 0, 0, 0, 0, time.UTC) })
	})

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim})
	require.True(t, res.Success)
	require.NotNil(t, res.Age)
	assert.Equal(t, 15, *res.Age)
	assert.True(t, res.IsTeen)
}

type stubClassifier struct {
	res classifier.Result
	err error
}

func (s stubClassifier) Classify(context.Context, image.Image) (classifier.Result, error) {
	return s.res, s.err
}

func TestVerify_Classifier(t *testing.T) {
	card := classifier.Result{Label: classifier.LabelIDCard, Confidence: 0.9, Method: "heuristic"}

	tests := []struct {
		name      string
		clf       ImageClassifier
		classify  bool
		wantNil   bool
		wantLabel string
		wantErr   string
	}{
		{name: "attached", clf: stubClassifier{res: card}, classify: true, wantLabel: classifier.LabelIDCard},
		{name: "not requested", clf: stubClassifier{res: card}, classify: false, wantNil: true},
		{name: "not configured", clf: nil, classify: true, wantNil: true},
		{name: "failure inline", clf: stubClassifier{err: errors.New("model missing")}, classify: true, wantErr: "model missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := build(t, testutil.NewTextEngine(cardText), func(b *Builder) {
				if tt.clf != nil {
					b.WithClassifier(tt.clf)
				}
			})
			res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim, Classify: tt.classify})
			require.True(t, res.Success)
			assert.True(t, res.AllMatch)
			if tt.wantNil {
				assert.Nil(t, res.ImageRecognition)
				return
			}
			require.NotNil(t, res.ImageRecognition)
			if tt.wantErr != "" {
				assert.Contains(t, res.ImageRecognition.Error, tt.wantErr)
				return
			}
			assert.Equal(t, tt.wantLabel, res.ImageRecognition.Label)
		})
	}
}

type recordingProgress struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingProgress) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingProgress) OnStart(total int)             { r.add("start") }
func (r *recordingProgress) OnProgress(current, total int) { r.add("progress") }
func (r *recordingProgress) OnComplete()                   { r.add("complete") }
func (r *recordingProgress) OnError(current int, err error) { r.add("error") }

func TestVerify_ReportsProgress(t *testing.T) {
	p := build(t, testutil.NewTextEngine(cardText))
	rec := &recordingProgress{}

	res := p.Verify(context.Background(), Request{Image: cardImage(t), Claim: johnClaim, Progress: rec})
	require.True(t, res.Success)
	assert.Equal(t, []string{"start", "progress", "complete"}, rec.events)
}

func TestPipeline_Info(t *testing.T) {
	p := build(t, testutil.NewTextEngine(""))
	info := p.Info()
	assert.Equal(t, []string{"otsu", "adaptive", "bilateral"}, info["variants"])
	assert.Equal(t, "closed", info["breaker_state"])
	assert.Equal(t, false, info["classifier"])
	require.NoError(t, p.Close())
}
