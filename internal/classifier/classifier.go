// Package classifier provides the optional document-image classifier whose
// advisory verdict is attached to verification results.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/idcheck/internal/models"
	"github.com/MeKo-Tech/idcheck/internal/onnx"
)

// Labels used by the heuristic and the default model.
const (
	LabelIDCard  = "id_card"
	LabelOther   = "other"
	LabelUnknown = "unknown"
)

// Config controls classifier initialisation.
type Config struct {
	Enabled              bool           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ModelPath            string         `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath          string         `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	Labels               []string       `mapstructure:"labels" yaml:"labels" json:"labels"`
	InputSize            int            `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ConfidenceThreshold  float64        `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	NumThreads           int            `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	UseHeuristicFallback bool           `mapstructure:"heuristic_fallback" yaml:"heuristic_fallback" json:"heuristic_fallback"`
	HeuristicOnly        bool           `mapstructure:"heuristic_only" yaml:"heuristic_only" json:"heuristic_only"`
	GPU                  onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		ModelPath:            models.ClassifierModelPath("", models.DocumentClassifier),
		Labels:               []string{LabelIDCard, LabelOther},
		InputSize:            224,
		ConfidenceThreshold:  0.6,
		UseHeuristicFallback: true,
	}
}

// Result is the advisory classification.
type Result struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Method     string             `json:"method"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// Error reports a classifier failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("classifier %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Classifier labels document images with an ONNX model when one is
// available, otherwise with a layout heuristic.
type Classifier struct {
	cfg     Config
	mu      sync.Mutex // sessions are not safe for concurrent Run calls
	session *onnxrt.DynamicAdvancedSession
	inName  string
	outName string
}

// New creates a classifier. A missing model or runtime falls back to the
// heuristic when UseHeuristicFallback is set.
func New(cfg Config) (*Classifier, error) {
	if len(cfg.Labels) == 0 {
		cfg.Labels = []string{LabelIDCard, LabelOther}
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 224
	}
	if cfg.HeuristicOnly {
		return &Classifier{cfg: cfg}, nil
	}

	c, err := newONNXClassifier(cfg)
	if err == nil {
		return c, nil
	}
	if cfg.UseHeuristicFallback {
		slog.Warn("Classifier model unavailable, using heuristic", "model", cfg.ModelPath, "error", err)
		return &Classifier{cfg: cfg}, nil
	}
	return nil, &Error{Op: "init", Err: err}
}

func newONNXClassifier(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("empty model path")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.InitEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input, got %dD", len(inputs[0].Dimensions))
	}
	if h := inputs[0].Dimensions[2]; h > 0 {
		cfg.InputSize = int(h)
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if err := onnx.ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, err
	}
	if cfg.NumThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.NumThreads)
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Classifier{cfg: cfg, session: sess, inName: inputs[0].Name, outName: outputs[0].Name}, nil
}

// Method reports which backend produces predictions.
func (c *Classifier) Method() string {
	if c.session != nil {
		return "onnx"
	}
	return "heuristic"
}

// Close releases the model session.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// Classify labels img. Predictions below the confidence threshold are
// reported as LabelUnknown.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (Result, error) {
	if img == nil || img.Bounds().Empty() {
		return Result{}, &Error{Op: "classify", Err: errors.New("empty image")}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Op: "classify", Err: err}
	}

	var (
		res Result
		err error
	)
	if c.session == nil {
		res = heuristic(img)
	} else {
		res, err = c.predictONNX(img)
		if err != nil {
			return Result{}, &Error{Op: "inference", Err: err}
		}
	}
	if res.Confidence < c.cfg.ConfidenceThreshold {
		res.Label = LabelUnknown
	}
	return res, nil
}

func (c *Classifier) predictONNX(img image.Image) (Result, error) {
	t, err := onnx.NewImageTensor(img, c.cfg.InputSize, c.cfg.InputSize, onnx.ImageNetNormalization)
	if err != nil {
		return Result{}, err
	}
	if err := onnx.VerifyImageTensor(t); err != nil {
		return Result{}, err
	}
	input, err := onnxrt.NewTensor(onnxrt.NewShape(t.Shape...), t.Data)
	if err != nil {
		return Result{}, fmt.Errorf("tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Result{}, errors.New("classifier closed")
	}
	outputs := []onnxrt.Value{nil}
	if err := c.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return Result{}, fmt.Errorf("run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return Result{}, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	logits := out.GetData()
	if len(logits) < len(c.cfg.Labels) {
		return Result{}, fmt.Errorf("model produced %d scores for %d labels", len(logits), len(c.cfg.Labels))
	}
	return fromLogits(logits[:len(c.cfg.Labels)], c.cfg.Labels), nil
}

func fromLogits(logits []float32, labels []string) Result {
	probs := onnx.Softmax(logits)
	idx := onnx.Argmax(probs)
	scores := make(map[string]float64, len(labels))
	for i, l := range labels {
		scores[l] = probs[i]
	}
	return Result{Label: labels[idx], Confidence: probs[idx], Method: "onnx", Scores: scores}
}
