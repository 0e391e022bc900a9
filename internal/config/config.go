//nolint:lll
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcheck/internal/classifier"
	"github.com/MeKo-Tech/idcheck/internal/models"
	"github.com/MeKo-Tech/idcheck/internal/ocr"
	"github.com/MeKo-Tech/idcheck/internal/onnx"
	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/preprocess"
)

// Config represents the complete configuration for the idcheck application.
// It is loaded from configuration files, environment variables and
// command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	OCR        OCRConfig        `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Extract    ExtractConfig    `mapstructure:"extract" yaml:"extract" json:"extract"`
	Verify     VerifyConfig     `mapstructure:"verify" yaml:"verify" json:"verify"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Batch      BatchConfig      `mapstructure:"batch" yaml:"batch" json:"batch"`
	GPU        GPUConfig        `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// PreprocessConfig selects and tunes the image variants.
type PreprocessConfig struct {
	Variants            []string `mapstructure:"variants" yaml:"variants" json:"variants"`
	AdaptiveBlockSize   int      `mapstructure:"adaptive_block_size" yaml:"adaptive_block_size" json:"adaptive_block_size"`
	AdaptiveC           float64  `mapstructure:"adaptive_c" yaml:"adaptive_c" json:"adaptive_c"`
	DenoiseRadius       int      `mapstructure:"denoise_radius" yaml:"denoise_radius" json:"denoise_radius"`
	BilateralDiameter   int      `mapstructure:"bilateral_diameter" yaml:"bilateral_diameter" json:"bilateral_diameter"`
	BilateralSigmaColor float64  `mapstructure:"bilateral_sigma_color" yaml:"bilateral_sigma_color" json:"bilateral_sigma_color"`
	BilateralSigmaSpace float64  `mapstructure:"bilateral_sigma_space" yaml:"bilateral_sigma_space" json:"bilateral_sigma_space"`
}

// OCRConfig contains text recognition settings.
type OCRConfig struct {
	Language        string        `mapstructure:"language" yaml:"language" json:"language"`
	Whitelist       string        `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	PrimaryPSM      int           `mapstructure:"primary_psm" yaml:"primary_psm" json:"primary_psm"`
	AlternativePSMs []int         `mapstructure:"alternative_psms" yaml:"alternative_psms" json:"alternative_psms"`
	InvertPass      bool          `mapstructure:"invert_pass" yaml:"invert_pass" json:"invert_pass"`
	CallTimeoutMS   int           `mapstructure:"call_timeout_ms" yaml:"call_timeout_ms" json:"call_timeout_ms"`
	TessdataPrefix  string        `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	RecognizeAll    bool          `mapstructure:"recognize_all" yaml:"recognize_all" json:"recognize_all"`
	Breaker         BreakerConfig `mapstructure:"breaker" yaml:"breaker" json:"breaker"`
}

// BreakerConfig guards the recognition engine.
type BreakerConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxFailures    int  `mapstructure:"max_failures" yaml:"max_failures" json:"max_failures"`
	OpenTimeoutSec int  `mapstructure:"open_timeout_sec" yaml:"open_timeout_sec" json:"open_timeout_sec"`
}

// ExtractConfig contains field extraction settings.
type ExtractConfig struct {
	Name NameConfig `mapstructure:"name" yaml:"name" json:"name"`
}

// NameConfig holds the name matching thresholds (0-100).
type NameConfig struct {
	AcceptThreshold    int `mapstructure:"accept_threshold" yaml:"accept_threshold" json:"accept_threshold"`
	FirstNameThreshold int `mapstructure:"first_name_threshold" yaml:"first_name_threshold" json:"first_name_threshold"`
	MaxLength          int `mapstructure:"max_length" yaml:"max_length" json:"max_length"`
}

// VerifyConfig contains comparison settings.
type VerifyConfig struct {
	NameThreshold int `mapstructure:"name_threshold" yaml:"name_threshold" json:"name_threshold"`
}

// ClassifierConfig contains the optional document classifier settings.
type ClassifierConfig struct {
	Enabled             bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ModelPath           string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath         string   `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	Labels              []string `mapstructure:"labels" yaml:"labels" json:"labels"`
	InputSize           int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	NumThreads          int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	HeuristicFallback   bool     `mapstructure:"heuristic_fallback" yaml:"heuristic_fallback" json:"heuristic_fallback"`
	HeuristicOnly       bool     `mapstructure:"heuristic_only" yaml:"heuristic_only" json:"heuristic_only"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format       string `mapstructure:"format" yaml:"format" json:"format"`
	File         string `mapstructure:"file" yaml:"file" json:"file"`
	IncludeDebug bool   `mapstructure:"include_debug" yaml:"include_debug" json:"include_debug"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	WatchConfig     bool            `mapstructure:"watch_config" yaml:"watch_config" json:"watch_config"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers        int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Format         string `mapstructure:"format" yaml:"format" json:"format"`
	FailOnMismatch bool   `mapstructure:"fail_on_mismatch" yaml:"fail_on_mismatch" json:"fail_on_mismatch"`
}

// GPUConfig contains GPU acceleration settings for the classifier.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pre := preprocess.DefaultOptions()
	rec := ocr.DefaultConfig()
	brk := ocr.DefaultBreakerConfig()
	clf := classifier.DefaultConfig()

	variants := make([]string, len(preprocess.DefaultKinds))
	for i, k := range preprocess.DefaultKinds {
		variants[i] = string(k)
	}

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Preprocess: PreprocessConfig{
			Variants:            variants,
			AdaptiveBlockSize:   pre.AdaptiveBlockSize,
			AdaptiveC:           pre.AdaptiveC,
			DenoiseRadius:       pre.DenoiseRadius,
			BilateralDiameter:   pre.BilateralDiameter,
			BilateralSigmaColor: pre.BilateralSigmaColor,
			BilateralSigmaSpace: pre.BilateralSigmaSpace,
		},
		OCR: OCRConfig{
			Language:        rec.Language,
			Whitelist:       rec.Whitelist,
			PrimaryPSM:      rec.PrimaryPSM,
			AlternativePSMs: rec.AlternativePSMs,
			InvertPass:      rec.InvertPass,
			CallTimeoutMS:   int(rec.CallTimeout / time.Millisecond),
			Breaker: BreakerConfig{
				Enabled:        brk.Enabled,
				MaxFailures:    int(brk.MaxFailures),
				OpenTimeoutSec: int(brk.OpenTimeout / time.Second),
			},
		},
		Extract: ExtractConfig{Name: NameConfig{AcceptThreshold: 75, FirstNameThreshold: 60, MaxLength: 40}},
		Verify:  VerifyConfig{NameThreshold: 75},
		Classifier: ClassifierConfig{
			Enabled:             clf.Enabled,
			Labels:              clf.Labels,
			InputSize:           clf.InputSize,
			ConfidenceThreshold: clf.ConfidenceThreshold,
			HeuristicFallback:   clf.UseHeuristicFallback,
		},
		Output: OutputConfig{Format: "text", IncludeDebug: true},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     10,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit:       RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10},
		},
		Batch: BatchConfig{Workers: 2, Format: "jsonl"},
		GPU:   GPUConfig{MemoryLimit: "auto"},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	validBatchFormats := []string{"jsonl", "json"}
	if c.Batch.Format != "" && !slices.Contains(validBatchFormats, c.Batch.Format) {
		return fmt.Errorf("invalid batch format: %s (must be one of: %s)", c.Batch.Format, strings.Join(validBatchFormats, ", "))
	}

	if len(c.Preprocess.Variants) == 0 {
		return errors.New("preprocess.variants must name at least one variant")
	}
	for _, v := range c.Preprocess.Variants {
		if _, err := preprocess.ParseKind(v); err != nil {
			return fmt.Errorf("invalid preprocess.variants: %w", err)
		}
	}
	if c.Preprocess.AdaptiveBlockSize < 3 {
		return fmt.Errorf("invalid preprocess.adaptive_block_size: %d (must be at least 3)", c.Preprocess.AdaptiveBlockSize)
	}

	for name, v := range map[string]int{
		"extract.name.accept_threshold":     c.Extract.Name.AcceptThreshold,
		"extract.name.first_name_threshold": c.Extract.Name.FirstNameThreshold,
		"verify.name_threshold":             c.Verify.NameThreshold,
	} {
		if err := validateScore(v, name); err != nil {
			return err
		}
	}
	if c.Extract.Name.MaxLength <= 0 {
		return fmt.Errorf("invalid extract.name.max_length: %d (must be positive)", c.Extract.Name.MaxLength)
	}
	if c.OCR.CallTimeoutMS < 0 {
		return fmt.Errorf("invalid ocr.call_timeout_ms: %d (must not be negative)", c.OCR.CallTimeoutMS)
	}
	if c.OCR.Language == "" {
		return errors.New("ocr.language must not be empty")
	}
	if c.OCR.Breaker.Enabled && c.OCR.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("invalid ocr.breaker.max_failures: %d (must be positive)", c.OCR.Breaker.MaxFailures)
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid classifier.confidence_threshold: %.2f (must be between 0.0 and 1.0)", c.Classifier.ConfidenceThreshold)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid server.rate_limit.requests_per_minute: %d (must be positive)", c.Server.RateLimit.RequestsPerMinute)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the orchestrator configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()

	cfg.Variants = make([]preprocess.Kind, 0, len(c.Preprocess.Variants))
	for _, v := range c.Preprocess.Variants {
		if k, err := preprocess.ParseKind(v); err == nil {
			cfg.Variants = append(cfg.Variants, k)
		}
	}
	cfg.Preprocess = preprocess.Options{
		AdaptiveBlockSize:   c.Preprocess.AdaptiveBlockSize,
		AdaptiveC:           c.Preprocess.AdaptiveC,
		DenoiseRadius:       c.Preprocess.DenoiseRadius,
		BilateralDiameter:   c.Preprocess.BilateralDiameter,
		BilateralSigmaColor: c.Preprocess.BilateralSigmaColor,
		BilateralSigmaSpace: c.Preprocess.BilateralSigmaSpace,
	}
	cfg.OCR = ocr.Config{
		Language:        c.OCR.Language,
		Whitelist:       c.OCR.Whitelist,
		PrimaryPSM:      c.OCR.PrimaryPSM,
		AlternativePSMs: c.OCR.AlternativePSMs,
		InvertPass:      c.OCR.InvertPass,
		CallTimeout:     time.Duration(c.OCR.CallTimeoutMS) * time.Millisecond,
	}
	cfg.Breaker.Enabled = c.OCR.Breaker.Enabled
	if c.OCR.Breaker.MaxFailures > 0 {
		cfg.Breaker.MaxFailures = uint32(c.OCR.Breaker.MaxFailures) //nolint:gosec // validated positive
	}
	if c.OCR.Breaker.OpenTimeoutSec > 0 {
		cfg.Breaker.OpenTimeout = time.Duration(c.OCR.Breaker.OpenTimeoutSec) * time.Second
	}
	cfg.Name.AcceptThreshold = c.Extract.Name.AcceptThreshold
	cfg.Name.FirstNameThreshold = c.Extract.Name.FirstNameThreshold
	cfg.Name.MaxLength = c.Extract.Name.MaxLength
	cfg.NameThreshold = c.Verify.NameThreshold
	cfg.RecognizeAll = c.OCR.RecognizeAll
	cfg.IncludeDebug = c.Output.IncludeDebug
	return cfg
}

// ToClassifierConfig converts the classifier and GPU sections.
func (c *Config) ToClassifierConfig() classifier.Config {
	cfg := classifier.DefaultConfig()
	cfg.Enabled = c.Classifier.Enabled
	cfg.ModelPath = models.ClassifierModelPath(c.ModelsDir, c.Classifier.ModelPath)
	cfg.LibraryPath = c.Classifier.LibraryPath
	if len(c.Classifier.Labels) > 0 {
		cfg.Labels = c.Classifier.Labels
	}
	if c.Classifier.InputSize > 0 {
		cfg.InputSize = c.Classifier.InputSize
	}
	cfg.ConfidenceThreshold = c.Classifier.ConfidenceThreshold
	cfg.NumThreads = c.Classifier.NumThreads
	cfg.UseHeuristicFallback = c.Classifier.HeuristicFallback
	cfg.HeuristicOnly = c.Classifier.HeuristicOnly

	limit, _ := parseMemoryLimit(c.GPU.MemoryLimit)
	cfg.GPU = onnx.GPUConfig{UseGPU: c.GPU.Enabled, DeviceID: c.GPU.Device, GPUMemLimit: limit}
	return cfg
}

// validateScore checks a 0-100 similarity threshold.
func validateScore(value int, name string) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("invalid %s: %d (must be between 0 and 100)", name, value)
	}
	return nil
}

// parseMemoryLimit converts a GPU memory limit such as "1GB" or "512MB" to
// bytes. Empty and "auto" mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
