// Package cli implements the cowrite command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amaydixit11/cowrite/internal/config"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Name       string
	API        string
	DataDir    string

	cfg    config.Config
	logger *zap.Logger
}

// NewRootCommand creates the root command for the cowrite CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cowrite",
		Short: "cowrite - peer-to-peer collaborative text editing",
		Long: `Edit a shared text with peers on the LAN or the internet, without a server.

Every participant holds a full replica of the text. Edits are exchanged
directly between peers and converge whatever order they arrive in.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Name, "name", "", "display name shown to peers")
	cmd.PersistentFlags().StringVar(&opts.API, "api", "", "serve the HTTP API on this address (e.g. 127.0.0.1:8080)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "", "data directory (default from config)")

	cmd.AddCommand(NewHostCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewRoomsCommand(opts))
	cmd.AddCommand(NewPeersCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))

	return cmd
}

// load reads the config file and applies flag overrides.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.API != "" {
		cfg.API.Listen = o.API
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o.cfg = cfg

	logger, err := newLogger(o.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	o.logger = logger
	return nil
}

// sugar returns the logger in the shape the engine packages take.
func (o *RootOptions) sugar() transport.Logger {
	if o.logger == nil {
		return transport.NopLogger()
	}
	return o.logger.Sugar()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
