package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/config"
	"github.com/roach88/syncboard/internal/httpapi"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Server  string // base URL of a running server; empty uses SYNCBOARD_SERVER_URL
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the syncboard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncboard",
		Short: "syncboard - shared scoreboard server and client",
		Long: `A shared scoreboard for tabletop games.

Serve rooms over HTTP, invoke ledger operations, inspect history and
watch a room live while it stays in sync with the server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "server base URL (default $SYNCBOARD_SERVER_URL)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRoomCommand(opts))
	cmd.AddCommand(NewOpCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// configureLogging installs a text slog handler on w; verbose enables debug.
func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the environment configuration as a command error.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// serverURL returns the --server flag or the configured server URL.
func (o *RootOptions) serverURL() (string, error) {
	if o.Server != "" {
		return o.Server, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.ServerURL, nil
}

// client builds an API client for the selected server.
func (o *RootOptions) client() (*httpapi.Client, error) {
	url, err := o.serverURL()
	if err != nil {
		return nil, err
	}
	return httpapi.NewClient(url, nil), nil
}
