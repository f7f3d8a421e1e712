package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/config"
	"github.com/frederic-klein/pyenvcheck/internal/runner"
)

// newRunner is swapped out by tests.
var newRunner = func(logger *zap.Logger) runner.Runner {
	return runner.NewExec(logger)
}

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	cache  *cache.Handle
	runner runner.Runner
	// warnings collected while setting up, such as an unreadable cache.
	warnings []error
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	config.MergeFlags(cfg, cmd.Flags())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		cache:  cache.New(cfg.CachePath()),
		runner: newRunner(logger),
	}
	if err := a.cache.Load(); err != nil {
		logger.Warn("Cache unreadable, starting empty", zap.Error(err))
		a.warnings = append(a.warnings, err)
	}
	return a, nil
}

// loadConfig reads --config, or the default config file when it exists.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && configPath == "" {
		return config.Default(), nil
	}
	return cfg, err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.Encoding = "console"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}
	logConfig.DisableStacktrace = true
	logConfig.Sampling = nil
	return logConfig.Build()
}
