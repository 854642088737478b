package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/star/fpgeom/internal/api"
	"github.com/star/fpgeom/internal/auth"
	"github.com/star/fpgeom/internal/batch"
	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/metrics"
	"github.com/star/fpgeom/internal/snapshot"
)

func main() {
	logger := newLogger(os.Stdout, os.Getenv("FPGEOM_LOG_LEVEL"), os.Getenv("FPGEOM_LOG_FORMAT"))

	addr := os.Getenv("FPGEOM_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	snapCfg := loadSnapshotConfig(logger)
	var cache *snapshot.Cache
	if snapCfg.Dir != "" {
		cache = snapshot.NewCache(snapCfg.Dir, snapCfg.MaxFiles)
	}

	store := snapshot.NewStore(instrument.Variants()...)
	if err := loadBundles(logger, store, cache, os.Getenv("FPGEOM_CALIBRATION_FILE")); err != nil {
		logger.Error("loading calibration", "error", err)
		os.Exit(1)
	}

	pool := batch.NewPool(loadBatchWorkers(logger), logger)
	srv := api.NewServer(api.Config{
		Addr:           addr,
		Auth:           authCfg,
		TrustProxy:     loadTrustProxy(logger),
		MaxBatchPoints: loadMaxBatchPoints(logger),
	}, logger, store, cache, pool)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"snapshot_dir", snapCfg.Dir,
			"batch_workers", pool.Workers(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newLogger builds the process logger: JSON unless format is "text", at
// the given level (debug, info, warn, error; default debug).
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadBundles fills the store. Each variant starts from its newest snapshot
// when one exists, and from the built-in table otherwise. A calibration file
// overrides its own variant.
func loadBundles(logger *slog.Logger, store *snapshot.Store, cache *snapshot.Cache, calibrationFile string) error {
	for _, v := range store.Variants() {
		b, source, err := initialBundle(logger, cache, v)
		if err != nil {
			return err
		}
		if err := store.Set(b); err != nil {
			return err
		}
		metrics.SetRegistrySensors(string(v), b.Registry.Len())
		logger.Info("loaded registry", "component", "snapshot", "variant", v, "source", source, "sensors", b.Registry.Len())
	}

	if calibrationFile == "" {
		return nil
	}
	b, err := instrument.LoadFile(calibrationFile)
	if err != nil {
		return err
	}
	if err := store.Set(b); err != nil {
		return err
	}
	metrics.SetRegistrySensors(string(b.Variant), b.Registry.Len())
	logger.Info("loaded registry", "component", "snapshot", "variant", b.Variant, "source", calibrationFile, "sensors", b.Registry.Len())
	return nil
}

func initialBundle(logger *slog.Logger, cache *snapshot.Cache, v instrument.Variant) (*instrument.Bundle, string, error) {
	if cache != nil {
		b, ts, err := snapshot.Restore(cache, v)
		switch {
		case err == nil:
			return b, "snapshot@" + ts.UTC().Format(time.RFC3339), nil
		case errors.Is(err, snapshot.ErrNoSnapshot):
			logger.Info("no registry snapshot found, using built-in table", "component", "snapshot", "variant", v)
		default:
			logger.Warn("failed to restore registry snapshot, using built-in table", "component", "snapshot", "variant", v, "error", err)
		}
	}
	b, err := instrument.New(v)
	return b, "builtin", err
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("FPGEOM_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("FPGEOM_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("FPGEOM_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("FPGEOM_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

type snapshotConfig struct {
	Dir      string
	MaxFiles int
}

func loadSnapshotConfig(logger *slog.Logger) snapshotConfig {
	cfg := snapshotConfig{
		Dir:      "/tmp/fpgeom/snapshots",
		MaxFiles: 5,
	}

	if v, ok := os.LookupEnv("FPGEOM_SNAPSHOT_DIR"); ok {
		// An explicitly empty value disables persistence.
		cfg.Dir = strings.TrimSpace(v)
	}

	if v := os.Getenv("FPGEOM_SNAPSHOT_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid FPGEOM_SNAPSHOT_MAX_FILES value, using default", "value", v, "default", cfg.MaxFiles)
		} else {
			cfg.MaxFiles = n
		}
	}

	logger.Info("snapshot config",
		"dir", cfg.Dir,
		"max_files", cfg.MaxFiles,
	)

	return cfg
}

func loadTrustProxy(logger *slog.Logger) bool {
	v := os.Getenv("FPGEOM_TRUST_PROXY")
	if v == "" {
		return false
	}
	trust, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid FPGEOM_TRUST_PROXY value, defaulting to false", "value", v)
		return false
	}
	return trust
}

func loadBatchWorkers(logger *slog.Logger) int {
	workers := runtime.NumCPU()
	if v := os.Getenv("FPGEOM_BATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid FPGEOM_BATCH_WORKERS value, using default", "value", v, "default", workers)
		} else {
			workers = n
		}
	}
	return workers
}

func loadMaxBatchPoints(logger *slog.Logger) int {
	limit := 100_000
	if v := os.Getenv("FPGEOM_BATCH_MAX_POINTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid FPGEOM_BATCH_MAX_POINTS value, using default", "value", v, "default", limit)
		} else {
			limit = n
		}
	}
	return limit
}
