package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/config"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/flow"
	"github.com/farid-feyzi/jacoco/internal/listing"
	"github.com/farid-feyzi/jacoco/internal/metrics"
	"github.com/farid-feyzi/jacoco/internal/store"
)

// env is the state every command shares, built by setup.
var env struct {
	cfg     config.Config
	mode    execdata.Mode
	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

// setup loads the configuration, applies flag overrides and installs the
// logger and metrics registry.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modeFlag != "" {
		m, err := execdata.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		cfg.Mode = m.String()
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var h slog.Handler
	if cfg.Log.JSON {
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()})
	} else {
		h = tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
			Level:      cfg.LogLevel(),
			TimeFormat: "15:04:05",
		})
	}

	env.cfg = cfg
	env.mode = cfg.ProbeMode()
	env.logger = slog.New(h)
	env.reg = prometheus.NewRegistry()
	env.metrics = metrics.New(env.reg)
	slog.SetDefault(env.logger)
	return nil
}

func openStore() (*store.Store, error) {
	sc := store.DefaultConfig(env.cfg.Store.Path)
	sc.InMemory = env.cfg.Store.InMemory
	sc.SyncWrites = env.cfg.Store.SyncWrites
	sc.Logger = env.logger
	if sc.InMemory {
		sc.GCInterval = 0
	}
	s, err := store.Open(sc, env.mode, env.metrics)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", env.cfg.Store.Path, err)
	}
	return s, nil
}

func isListing(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// loadListings parses listing files. Directories are searched for *.yaml
// and *.yml files.
func loadListings(paths []string) ([]*flow.Class, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isListing(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	classes := make([]*flow.Class, 0, len(files))
	for _, f := range files {
		c, err := listing.ParseFile(f)
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	env.logger.Debug("listings loaded", "classes", len(classes), "elapsed", time.Since(start))
	return classes, nil
}
