package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mini-placement/config"
)

// Options are the flags shared by every subcommand.
type Options struct {
	ConfigPath string
	LogLevel   string
}

func NewOptions() *Options {
	return &Options{}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", o.ConfigPath, "Path to the placement YAML configuration")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Override the configured log level (debug, info, warn, error)")
}

func (o *Options) Validate() error {
	if o.ConfigPath == "" {
		return errors.New("--config is required")
	}
	return nil
}

// Load reads the configuration and builds a logger honouring --log-level.
func (o *Options) Load() (*config.Config, *zap.Logger, error) {
	if err := o.Validate(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	logger, err := cfg.BuildLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
