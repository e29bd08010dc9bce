// Package cli implements the fisioflow command tree.
package cli

import (
	"io"

	"github.com/dudufisio/fisioflow/internal/config"
	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths    config.Paths
	log      *logging.Logger
	logClose io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fisioflow",
		Short: "FisioFlow AI provider settings service",
		Long:  "FisioFlow resolves which AI text-generation providers are enabled, persists user overrides and routes completions to the selected provider.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := paths.LoadEnvFile(); err != nil {
				return err
			}

			// A broken config file must not stop "config set" from fixing it.
			opts := logging.Options{Level: "info", Style: "pretty"}
			if cfg, err := config.Load(paths.Config); err == nil {
				opts = logging.Options{Level: cfg.Logging.Level, Style: cfg.Logging.ConsoleStyle, File: cfg.Logging.File}
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			log, logClose, err = logging.FromOptions(opts)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logClose != nil {
				return logClose.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fisioflow/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newProvidersCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
