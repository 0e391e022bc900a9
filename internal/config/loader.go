package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "idcheck"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDCHECK"
)

// Loader handles loading configuration from files, environment variables
// and bound flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags bound
// by the root command take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewIsolatedLoader creates a loader with its own viper instance.
func NewIsolatedLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load reads the first config file found on the search path and validates
// the result. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is LoadWithFile without the validation step. Commands
// validate once flags have been merged in.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

// LoadWithFile loads configuration from a specific file path, or from the
// search path when configFile is empty.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	l.setupEnvironmentVariables()
	l.setDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Watch reloads the configuration whenever the file in use changes and
// passes every valid result to onChange. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			slog.Warn("Ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		slog.Info("Configuration reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables maps keys such as ocr.call_timeout_ms to
// IDCHECK_OCR_CALL_TIMEOUT_MS.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every default so that environment variables resolve
// for keys that appear in no config file.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("preprocess.variants", d.Preprocess.Variants)
	l.v.SetDefault("preprocess.adaptive_block_size", d.Preprocess.AdaptiveBlockSize)
	l.v.SetDefault("preprocess.adaptive_c", d.Preprocess.AdaptiveC)
	l.v.SetDefault("preprocess.denoise_radius", d.Preprocess.DenoiseRadius)
	l.v.SetDefault("preprocess.bilateral_diameter", d.Preprocess.BilateralDiameter)
	l.v.SetDefault("preprocess.bilateral_sigma_color", d.Preprocess.BilateralSigmaColor)
	l.v.SetDefault("preprocess.bilateral_sigma_space", d.Preprocess.BilateralSigmaSpace)

	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.whitelist", d.OCR.Whitelist)
	l.v.SetDefault("ocr.primary_psm", d.OCR.PrimaryPSM)
	l.v.SetDefault("ocr.alternative_psms", d.OCR.AlternativePSMs)
	l.v.SetDefault("ocr.invert_pass", d.OCR.InvertPass)
	l.v.SetDefault("ocr.call_timeout_ms", d.OCR.CallTimeoutMS)
	l.v.SetDefault("ocr.tessdata_prefix", d.OCR.TessdataPrefix)
	l.v.SetDefault("ocr.recognize_all", d.OCR.RecognizeAll)
	l.v.SetDefault("ocr.breaker.enabled", d.OCR.Breaker.Enabled)
	l.v.SetDefault("ocr.breaker.max_failures", d.OCR.Breaker.MaxFailures)
	l.v.SetDefault("ocr.breaker.open_timeout_sec", d.OCR.Breaker.OpenTimeoutSec)

	l.v.SetDefault("extract.name.accept_threshold", d.Extract.Name.AcceptThreshold)
	l.v.SetDefault("extract.name.first_name_threshold", d.Extract.Name.FirstNameThreshold)
	l.v.SetDefault("extract.name.max_length", d.Extract.Name.MaxLength)
	l.v.SetDefault("verify.name_threshold", d.Verify.NameThreshold)

	l.v.SetDefault("classifier.enabled", d.Classifier.Enabled)
	l.v.SetDefault("classifier.model_path", d.Classifier.ModelPath)
	l.v.SetDefault("classifier.library_path", d.Classifier.LibraryPath)
	l.v.SetDefault("classifier.labels", d.Classifier.Labels)
	l.v.SetDefault("classifier.input_size", d.Classifier.InputSize)
	l.v.SetDefault("classifier.confidence_threshold", d.Classifier.ConfidenceThreshold)
	l.v.SetDefault("classifier.num_threads", d.Classifier.NumThreads)
	l.v.SetDefault("classifier.heuristic_fallback", d.Classifier.HeuristicFallback)
	l.v.SetDefault("classifier.heuristic_only", d.Classifier.HeuristicOnly)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)
	l.v.SetDefault("output.include_debug", d.Output.IncludeDebug)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.watch_config", d.Server.WatchConfig)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.format", d.Batch.Format)
	l.v.SetDefault("batch.fail_on_mismatch", d.Batch.FailOnMismatch)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
}

// WriteYAML writes cfg as YAML.
func WriteYAML(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile writes the default configuration to filename,
// or idcheck.yaml when filename is empty. Existing files are not overwritten.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := WriteYAML(f, &cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "idcheck"))
	}
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "idcheck"))
	}
	return append(paths, "/etc/idcheck")
}

// PrintConfigInfo prints where configuration was loaded from.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
