package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/source"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "climwip",
		Short: "ClimWIP - climate model weighting by performance and independence",
		Long: `ClimWIP weights the members of a climate model ensemble by their
distance to observations (quality) and to each other (independence).

Shape parameters are calibrated with a perfect model test unless both are
given. Runs can be computed once from the command line or served over HTTP
and NATS.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override logging.format (json, text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

// loadConfig reads the config file and applies the logging flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg, nil
}

func newLogger(c config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newLoader picks the input source: a file or directory when a path is
// configured, otherwise the distance service.
func newLoader(cfg *config.Config) (source.Loader, error) {
	c := cfg.Source
	if c.Path != "" {
		info, err := os.Stat(c.Path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return source.FileLoader{Dir: c.Path}, nil
		}
		return source.FileLoader{Dir: filepath.Dir(c.Path), Path: c.Path}, nil
	}
	if c.URL != "" {
		return source.NewHTTPClient(c.URL, cfg.SourceTimeout()), nil
	}
	return nil, nil
}
