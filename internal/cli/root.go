// Package cli implements the authserver command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-authserver/internal/config"
	"github.com/giantswarm/oauth-authserver/internal/logging"
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	envFile    string
	verbose    bool
	version    string

	// set by loadConfig
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

// Execute runs the root command with the process arguments.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand returns the authserver command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	rootCmd := &cobra.Command{
		Use:           "authserver",
		Short:         "OAuth 2.0 authorization server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logCloser != nil {
				_ = opts.logCloser.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config-file", "f", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "config file (YAML)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSweepCommand(opts),
		newClientCommand(opts),
	)
	return rootCmd
}

func (o *options) loadConfig(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if cfg.Metrics.ServiceVersion == "" {
		cfg.Metrics.ServiceVersion = o.version
	}

	logger, closer, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	o.logger = logger
	o.logCloser = closer
	return nil
}
