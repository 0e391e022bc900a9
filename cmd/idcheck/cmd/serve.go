package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idcheck/internal/config"
	"github.com/MeKo-Tech/idcheck/internal/server"
	"github.com/MeKo-Tech/idcheck/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for identity verification",
	Long: `Start an HTTP server that verifies identity cards over REST and WebSocket.

The server provides the following endpoints:
  POST /verify    - Multipart upload: image file plus name, dob, id_number
  GET  /ws/verify - WebSocket with streamed progress
  GET  /health    - Health check endpoint
  GET  /metrics   - Prometheus metrics

With server.watch_config enabled, edits to the config file rebuild the
pipeline without a restart.

Examples:
  idcheck serve
  idcheck serve --port 8080
  idcheck serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: runServeCommand,
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	corsOrigin := cfg.Server.CORSOrigin
	if cmd.Flags().Changed("cors-origin") {
		corsOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	maxUpload := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUpload, _ = cmd.Flags().GetInt("max-upload-size")
	}
	timeout := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetInt("timeout")
	}
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	rateLimit := cfg.Server.RateLimit
	if cmd.Flags().Changed("rate-limit-enabled") {
		rateLimit.Enabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
	}
	if cmd.Flags().Changed("requests-per-minute") {
		rateLimit.RequestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
	}
	if cmd.Flags().Changed("burst") {
		rateLimit.Burst, _ = cmd.Flags().GetInt("burst")
	}
	watch := cfg.Server.WatchConfig
	if cmd.Flags().Changed("watch-config") {
		watch, _ = cmd.Flags().GetBool("watch-config")
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
	}

	p, err := buildPipeline(cfg, cfg.Classifier.Enabled, nil)
	if err != nil {
		return err
	}

	serverConfig := server.Config{
		Host:            host,
		Port:            port,
		CORSOrigin:      corsOrigin,
		MaxUploadMB:     int64(maxUpload),
		TimeoutSec:      timeout,
		ShutdownTimeout: shutdownTimeout,
		RateLimit: server.RateLimitConfig{
			Enabled:           rateLimit.Enabled,
			RequestsPerMinute: rateLimit.RequestsPerMinute,
			Burst:             rateLimit.Burst,
		},
	}
	srv, err := server.NewServer(serverConfig, p, version.Version)
	if err != nil {
		_ = p.Close()
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
	}()

	if watch {
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			slog.Info("Watching configuration file", "file", used)
			GetConfigLoader().Watch(func(next *config.Config) { reloadPipeline(srv, next) })
		} else {
			slog.Warn("watch_config is set but no configuration file is in use")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, serverConfig.Addr()); err != nil {
		return err
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

// reloadPipeline rebuilds the pipeline from a changed configuration. Server
// settings such as the port need a restart.
func reloadPipeline(srv *server.Server, cfg *config.Config) {
	p, err := buildPipeline(cfg, cfg.Classifier.Enabled, nil)
	if err != nil {
		slog.Error("Keeping previous pipeline", "error", err)
		return
	}
	srv.SetVerifier(p)
	slog.Info("Pipeline reloaded", "variants", cfg.Preprocess.Variants,
		"name_threshold", cfg.Verify.NameThreshold)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 10, "maximum upload size in MB")
	f.Int("timeout", 60, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.Bool("rate-limit-enabled", true, "enable per-client rate limiting")
	f.Int("requests-per-minute", 60, "sustained requests per minute per client")
	f.Int("burst", 10, "request burst per client")
	f.Bool("watch-config", false, "rebuild the pipeline when the config file changes")
}
