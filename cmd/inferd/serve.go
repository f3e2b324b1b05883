package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inferd/internal/config"
	"inferd/internal/engine/identity"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/modelinstance"
	"inferd/internal/registry"
	"inferd/internal/sequence"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
)

type serveOptions struct {
	configPath  string
	addr        string
	modelsDir   string
	logLevel    string
	corsOrigins string
}

// settings are the resolved runtime durations.
type settings struct {
	cleaner       time.Duration
	maxWait       time.Duration
	waitForLoaded time.Duration
	drain         time.Duration
	infer         time.Duration
}

func serve(ctx context.Context, opts serveOptions) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.Logger = logger

	templates, err := modelTemplates(cfg)
	if err != nil {
		return err
	}
	st, err := resolveSettings(cfg)
	if err != nil {
		return err
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Models:          templates,
		Engine:          identity.New(),
		Source:          registry.LocalSource{},
		Logger:          logger,
		MaxQueueDepth:   cfg.MaxQueueDepth,
		MaxWait:         st.maxWait,
		WaitForLoaded:   st.waitForLoaded,
		DrainTimeout:    st.drain,
		CleanerInterval: st.cleaner,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeout(st.infer)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("models", len(templates)).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Serve /readyz while models load.
	go func() {
		if err := mgr.LoadAll(ctx); err != nil {
			logger.Error().Err(err).Msg("some models failed to load")
		}
		if mgr.Ready() {
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Warn().Err(err).Msg("sd_notify ready")
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("model drain incomplete")
	}
	return nil
}

func loadConfig(opts serveOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	// Flags override the file
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.modelsDir != "" {
		cfg.ModelsDir = opts.modelsDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if origins := splitCSV(opts.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowedOrigins = origins
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.CORS.Enabled && len(cfg.CORS.AllowedMethods) == 0 {
		cfg.CORS.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		l, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
		}
		lvl = l
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}

// modelTemplates returns the configured models, or one model per directory
// under ModelsDir when the config lists none.
func modelTemplates(cfg config.Config) ([]modelinstance.Config, error) {
	if len(cfg.Models) == 0 && cfg.ModelsDir != "" {
		entries, err := registry.LoadDir(cfg.ModelsDir)
		if err != nil {
			return nil, fmt.Errorf("scan models dir: %w", err)
		}
		for _, e := range entries {
			cfg.Models = append(cfg.Models, config.ModelConfig{Name: e.Name, BasePath: e.BasePath})
		}
	}
	templates, err := cfg.Templates()
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, errors.New("no models configured: set models in the config file or --models-dir")
	}
	return templates, nil
}

func resolveSettings(cfg config.Config) (settings, error) {
	var st settings
	var err error
	if st.cleaner, err = config.Duration(cfg.SequenceCleanerInterval, sequence.DefaultCleanerInterval); err != nil {
		return st, fmt.Errorf("sequence_cleaner_interval: %w", err)
	}
	if st.cleaner == 0 {
		// "0" disables idle eviction
		st.cleaner = -1
	}
	if st.maxWait, err = config.Duration(cfg.MaxWait, 0); err != nil {
		return st, fmt.Errorf("max_wait: %w", err)
	}
	if st.waitForLoaded, err = config.Duration(cfg.WaitForLoaded, 0); err != nil {
		return st, fmt.Errorf("wait_for_loaded: %w", err)
	}
	if st.drain, err = config.Duration(cfg.DrainTimeout, 0); err != nil {
		return st, fmt.Errorf("drain_timeout: %w", err)
	}
	if st.infer, err = config.Duration(cfg.InferTimeout, 0); err != nil {
		return st, fmt.Errorf("infer_timeout: %w", err)
	}
	return st, nil
}
