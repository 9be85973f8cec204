package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/star/tletrack/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "tletrack",
		Short: "Serve satellite TLE data refreshed from a public feed",
		Long: `tletrack keeps a local copy of a public TLE feed and serves it over HTTP.
Without a subcommand it runs the server (same as "tletrack serve").`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TLETRACK_CONFIG"),
		"path to a YAML config file (env TLETRACK_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the periodic refresh job",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Run one refresh cycle against the configured store and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runRefresh(cmd, configPath)
			},
		},
	)
	return root
}

// setup loads the configuration and builds the process logger. Config
// warnings go to stderr before the configured log sink exists. The returned
// closer releases the log file, if any.
func setup(cmd *cobra.Command, configPath string) (config.Config, *slog.Logger, io.Closer, error) {
	boot := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))

	cfg, err := config.Load(configPath, boot)
	if err != nil {
		boot.Error("invalid configuration", "error", err, "config", configPath)
		return cfg, nil, nil, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	var (
		out    io.Writer = cmd.OutOrStdout()
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out, closer = lj, lj
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return cfg, logger, closer, nil
}
