package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	URL     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultURL is the node API address client commands talk to.
const DefaultURL = "http://localhost:9080"

// NewRootCommand creates the root command for the privtx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "privtx",
		Short: "privtx - private transaction manager",
		Long: `A store-and-forward engine for encrypted private transactions.

Each node keeps an encrypted copy of every transaction it is party to,
pushes new transactions to the other parties and lets clients decrypt
the payloads addressed to their keys.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reject a bad --format before any command touches the node
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "privtx.yaml", "path to the node configuration")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", DefaultURL, "node API address for client commands")

	// Node process
	cmd.AddCommand(NewServerCommand(opts))

	// Client commands, all served over the node's HTTP API
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewReceiveCommand(opts))
	cmd.AddCommand(NewStoreRawCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewResendCommand(opts))
	cmd.AddCommand(NewUpcheckCommand(opts))

	// Offline tooling, run against local files only
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}

// setupLogging installs a text handler on stderr. Verbose enables debug.
// stdout stays reserved for command output so --format json can be piped.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
