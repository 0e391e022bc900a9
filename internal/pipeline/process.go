package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeKo-Tech/idcheck/internal/extract"
	"github.com/MeKo-Tech/idcheck/internal/imageio"
	"github.com/MeKo-Tech/idcheck/internal/ocr"
	"github.com/MeKo-Tech/idcheck/internal/preprocess"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// Request is a single verification. Image takes precedence over ImagePath.
type Request struct {
	ImagePath string
	Image     image.Image
	Claim     verify.Claim
	// Classify runs the advisory classifier when one is configured.
	Classify bool
	// Progress overrides the pipeline's default callback.
	Progress ProgressCallback
}

// Verify runs the full verification and always returns a result. Stage
// failures, including panics, become a failed result rather than an error.
func (p *Pipeline) Verify(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "pipeline.verify",
		trace.WithAttributes(attribute.String("request.id", id)))
	defer span.End()

	progress := req.Progress
	if progress == nil {
		progress = p.progress
	}

	defer func() {
		if r := recover(); r != nil {
			res = failure(id, fmt.Errorf("panic: %v", r), "Verification failed: %v", r)
			progress.OnError(0, res.Err)
		}
		res.DurationMS = time.Since(start).Milliseconds()
		span.SetAttributes(attribute.Bool("verify.success", res.Success))
		if !res.Success {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Error)
		}
		slog.Debug("Verification finished",
			"request_id", id, "success", res.Success, "duration_ms", res.DurationMS)
	}()

	if err := ValidateClaim(req.Claim); err != nil {
		return failure(id, err, "Invalid claim: %v", err)
	}

	img := req.Image
	if img == nil {
		loaded, meta, err := imageio.LoadImage(req.ImagePath)
		if err != nil {
			return failure(id, err, "Could not read image file: %v", err)
		}
		img = loaded
		slog.Debug("Image loaded", "request_id", id, "format", meta.Format,
			"width", meta.Width, "height", meta.Height)
	}

	fields, texts, variants, err := p.extractFields(ctx, img, req.Claim.Name, progress)
	if err != nil {
		return failure(id, err, "Verification failed: %v", err)
	}

	report := p.verifier.Verify(fields, req.Claim)
	res = &Result{
		RequestID: id,
		Success:   true,
		Report:    &report,
		Extracted: &fields,
		Variants:  variants,
	}
	if p.cfg.IncludeDebug {
		res.DebugText = strings.Join(texts, p.cfg.DebugSeparator)
	}
	if req.Classify && p.classifier != nil {
		res.ImageRecognition = p.classify(ctx, img)
	}
	span.SetAttributes(attribute.Bool("verify.all_match", report.AllMatch))
	return res
}

// extractFields recognises variants in order and fills fields until all
// three are present. It returns the pooled text of every recognised variant.
func (p *Pipeline) extractFields(
	ctx context.Context,
	img image.Image,
	claimedName string,
	progress ProgressCallback,
) (extract.Fields, []string, []string, error) {
	var fields extract.Fields

	_, preSpan := p.tracer.Start(ctx, "pipeline.preprocess")
	variants, err := preprocess.Apply(img, p.cfg.Variants, p.cfg.Preprocess)
	preSpan.End()
	if err != nil {
		return fields, nil, nil, fmt.Errorf("preprocess: %w", err)
	}

	total := len(variants)
	progress.OnStart(total)
	defer progress.OnComplete()

	texts := make([]string, 0, total)
	kinds := make([]string, 0, total)
	for i, v := range variants {
		if err := ctx.Err(); err != nil {
			progress.OnError(i, err)
			return fields, texts, kinds, err
		}

		text, err := p.recognize(ctx, v)
		if err != nil {
			progress.OnError(i, err)
			return fields, texts, kinds, err
		}
		texts = append(texts, text.Pooled)
		kinds = append(kinds, string(v.Kind))

		if !fields.Complete() {
			_, exSpan := p.tracer.Start(ctx, "pipeline.extract",
				trace.WithAttributes(attribute.String("variant", string(v.Kind))))
			filled := p.extractor.Fill(&fields, text.Pooled, claimedName)
			exSpan.End()
			if len(filled) > 0 {
				slog.Debug("Fields extracted", "variant", string(v.Kind), "fields", filled)
			}
		}
		progress.OnProgress(i+1, total)

		if fields.Complete() && !p.cfg.RecognizeAll {
			slog.Debug("All fields found", "after_variant", string(v.Kind), "skipped", total-i-1)
			break
		}
	}
	return fields, texts, kinds, nil
}

func (p *Pipeline) recognize(ctx context.Context, v preprocess.Variant) (ocr.Text, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.recognize",
		trace.WithAttributes(attribute.String("variant", string(v.Kind))))
	defer span.End()

	text, err := p.recognizer.Recognize(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return text, err
	}
	span.SetAttributes(attribute.Int("text.length", len(text.Pooled)))
	return text, nil
}

// classify runs the advisory classifier. Its failure is reported inline and
// never affects the verification outcome.
func (p *Pipeline) classify(ctx context.Context, img image.Image) (out *ImageRecognition) {
	defer func() {
		if r := recover(); r != nil {
			out = &ImageRecognition{Error: fmt.Sprintf("classifier panic: %v", r)}
		}
	}()
	r, err := p.classifier.Classify(ctx, img)
	if err != nil {
		slog.Warn("Image classification failed", "error", err)
		return &ImageRecognition{Error: err.Error()}
	}
	return &ImageRecognition{Result: &r}
}

func failure(id string, err error, format string, args ...any) *Result {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return &Result{
		RequestID: id,
		Error:     fmt.Sprintf(format, args...),
		Err:       err,
	}
}
