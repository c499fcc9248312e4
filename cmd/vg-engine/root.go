package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vigraph/vg-server-sub000/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPaths []string
	LogLevel    string
	LogFormat   string
	Output      string // "text" | "json"
}

var validOutputs = []string{"text", "json"}

// NewRootCommand creates the vg-engine command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "vigraph dataflow engine",
		Long:          "Runs real-time dataflow graphs of typed elements re-evaluated on a periodic tick.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringSliceVarP(&opts.ConfigPaths, "config", "c", nil,
		"configuration file; repeat to layer files (env: VIGRAPH_*)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format: json, text")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "command output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDescribeCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (%s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

// loadConfig layers the configured files and environment overrides, then
// applies the logging flags.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range o.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return logger
}
