// Package cli implements the strata command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apopov/strata"
	"github.com/apopov/strata/internal/log"
)

// RootOptions holds global options shared across commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" or "text"
	Driver  string // storage driver override
	DataDir string // data directory override
	DB      string // SQLite path override
	LogFile string // rotated log file; empty logs to stderr

	// Logger is built by the root pre-run from the flags above and
	// handed to the store. Nil until the root command has run.
	Logger *slog.Logger

	logCloser io.Closer
}

// NewRootCommand creates the root command for the strata CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Query and modify a strata data set",
		Long: `Command-line access to a strata data set.

The driver selection and paths come from the STRATA_* environment and
the optional strata.yaml file; the --driver, --data-dir, and --db
flags override them for a single invocation.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logFormat := "text"
			if opts.LogFile != "" {
				logFormat = "json"
			}
			logger, closer, err := log.Setup(log.Options{
				Verbose: opts.Verbose,
				Format:  logFormat,
				File:    opts.LogFile,
			})
			if err != nil {
				return err
			}
			opts.Logger = logger
			opts.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json or text)")
	rootCmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver (document or relational)")
	rootCmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (also rebases the default SQLite path)")
	rootCmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the SQLite database file")
	rootCmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write logs to a size-rotated file instead of stderr")

	rootCmd.AddCommand(NewQueryCommand(opts))
	rootCmd.AddCommand(NewCountCommand(opts))
	rootCmd.AddCommand(NewInsertCommand(opts))
	rootCmd.AddCommand(NewInfoCommand(opts))

	return rootCmd
}

// ValidFormats lists the supported output formats.
var ValidFormats = []string{"json", "text"}

// isValidFormat checks if the given format is supported.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if format == f {
			return true
		}
	}
	return false
}

// openStore opens the store selected by the environment and the
// optional strata.yaml file, with any driver flags layered on top.
// Without driver flags the configuration source stays env; with them
// it becomes an override.
func openStore(opts *RootOptions, validator strata.Validator) (*strata.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx := context.Background()

	if opts.Driver == "" && opts.DataDir == "" && opts.DB == "" {
		return strata.OpenFromEnv(ctx, strata.Options{Validator: validator, Logger: logger})
	}

	cfg, err := strata.FromEnv()
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		kind, err := strata.ParseDriverKind(opts.Driver)
		if err != nil {
			return nil, err
		}
		cfg.Driver = kind
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
		if opts.DB == "" {
			cfg.SQLitePath = filepath.Join(opts.DataDir, "app.db")
		}
	}
	if opts.DB != "" {
		cfg.SQLitePath = opts.DB
	}
	return strata.Open(ctx, strata.Options{
		Config:    cfg,
		Validator: validator,
		Logger:    logger,
	})
}
