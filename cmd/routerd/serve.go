package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"routerd/internal/backend"
	"routerd/internal/config"
	"routerd/internal/engine"
	"routerd/internal/hardware"
	"routerd/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath       string
		addr          string
		backendURL    string
		primaryModel  string
		sidecarModel  string
		fallbackModel string
		keepAliveMin  int
		gpuThreshold  float64
		intervalSecs  int
		noPreload     bool
		noAutoRoute   bool
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			// Flags override file values when set explicitly.
			if cmd.Flags().Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("backend") || cfg.BackendURL == "" {
				cfg.BackendURL = backendURL
			}
			if cmd.Flags().Changed("primary") || cfg.PrimaryModel == "" {
				cfg.PrimaryModel = primaryModel
			}
			if cmd.Flags().Changed("sidecar") || cfg.SidecarModel == "" {
				cfg.SidecarModel = sidecarModel
			}
			if cmd.Flags().Changed("fallback") {
				cfg.FallbackModel = fallbackModel
			}
			if cmd.Flags().Changed("keep-alive-min") {
				cfg.KeepAliveMinutes = keepAliveMin
			}
			if cmd.Flags().Changed("gpu-threshold") {
				cfg.GPUMemoryThreshold = gpuThreshold
			}
			if cmd.Flags().Changed("interval-sec") {
				cfg.HealthCheckIntervalSeconds = intervalSecs
			}
			if noPreload {
				f := false
				cfg.PreloadOnStart = &f
			}
			if noAutoRoute {
				f := false
				cfg.AutoRoute = &f
			}
			if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = logLevel
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", envOr("ROUTERD_CONFIG", ""), "Config file (.yaml/.json/.toml)")
	f.StringVar(&addr, "addr", envOr("ROUTERD_ADDR", config.DefaultAddr), "HTTP listen address")
	f.StringVar(&backendURL, "backend", envOr("ROUTERD_BACKEND", config.DefaultBackendURL), "Inference backend base URL")
	f.StringVar(&primaryModel, "primary", envOr("ROUTERD_PRIMARY", ""), "Primary model name")
	f.StringVar(&sidecarModel, "sidecar", envOr("ROUTERD_SIDECAR", ""), "Sidecar model name")
	f.StringVar(&fallbackModel, "fallback", config.DefaultFallbackModel, "Fallback target identifier")
	f.IntVar(&keepAliveMin, "keep-alive-min", config.DefaultKeepAliveMinutes, "Keep-alive TTL sent on warm requests, minutes")
	f.Float64Var(&gpuThreshold, "gpu-threshold", config.DefaultGPUThreshold, "VRAM usage ratio above which the GPU counts as overloaded")
	f.IntVar(&intervalSecs, "interval-sec", config.DefaultHealthIntervalSecs, "Health check interval, seconds")
	f.BoolVar(&noPreload, "no-preload", false, "Skip warming the primary model at startup")
	f.BoolVar(&noAutoRoute, "no-auto-route", false, "Disable automatic routing (always answer primary)")
	f.StringVar(&logLevel, "log-level", envOr("ROUTERD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")

	return cmd
}

// logHardware reports the machine's GPUs and memory once at startup.
func logHardware(log zerolog.Logger, probe *hardware.Probe) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, gpu := range probe.DetectGPUs(ctx) {
		log.Info().
			Str("name", gpu.Name).
			Str("vendor", gpu.Vendor).
			Int("vram_mb", gpu.VRAMTotalMB).
			Msg("detected gpu")
	}
	if mem := probe.SystemMemory(ctx); mem != nil {
		log.Info().
			Int("total_mb", mem.TotalMB).
			Int("free_mb", mem.FreeMB).
			Msg("system memory")
	}
}

func runServe(cfg config.Config) error {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	bc := backend.New(cfg.BackendURL, log.With().Str("component", "backend").Logger())
	probe := hardware.New(log.With().Str("component", "hardware").Logger())
	logHardware(log, probe)
	eng := engine.New(engine.Config{
		PrimaryModel:        cfg.PrimaryModel,
		SidecarModel:        cfg.SidecarModel,
		FallbackModel:       cfg.FallbackModel,
		KeepAliveMinutes:    cfg.KeepAliveMinutes,
		GPUMemoryThreshold:  cfg.GPUMemoryThreshold,
		HealthCheckInterval: time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second,
		PreloadOnStart:      *cfg.PreloadOnStart,
		AutoRoute:           *cfg.AutoRoute,
	}, bc, probe, log.With().Str("component", "engine").Logger())

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins)

	eng.Start(baseCtx)
	defer eng.Stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(eng)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("backend", cfg.BackendURL).
			Str("primary", cfg.PrimaryModel).
			Str("sidecar", cfg.SidecarModel).
			Msg("routerd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
