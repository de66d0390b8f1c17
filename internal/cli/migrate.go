package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/privtx/internal/config"
	"github.com/roach88/privtx/internal/enc"
	"github.com/roach88/privtx/internal/migration"
	"github.com/roach88/privtx/internal/store"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import transactions from other transaction managers",
	}
	cmd.AddCommand(newMigrateOrionCommand(rootOpts))
	return cmd
}

func newMigrateOrionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orion <export-file>",
		Short: "Import an Orion export into the node database",
		Long: `Import newline separated Orion records into the database named by the
node configuration. Run it while the node is stopped.

Records whose boxes do not belong to any local key are skipped, as are
records already present.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			cfg, err := config.Load(rootOpts.Config)
			if err != nil {
				return f.Fail("failed to load configuration", withCode(ErrCodeConfig, err))
			}
			pairs, err := cfg.KeyPairs()
			if err != nil {
				return f.Fail("failed to load keys", withCode(ErrCodeConfig, err))
			}
			// Only the public halves are needed to pair boxes
			local := make([]enc.PublicKey, len(pairs))
			for i, p := range pairs {
				local[i] = p.Public
			}

			in, err := os.Open(args[0])
			if err != nil {
				return f.Fail("failed to open export", withCode(ErrCodeArgument, err))
			}
			defer in.Close()

			// Runs offline against the node's database file. Stop the
			// server first so the two processes don't contend for it.
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return f.Fail("failed to open database", withCode(ErrCodeStore, err))
			}
			defer func() {
				if closeErr := st.Close(); closeErr != nil {
					slog.Error("error closing database", "error", closeErr)
				}
			}()

			f.VerboseLog("Importing %s into %s", args[0], cfg.Database.Path)
			sum, err := migration.NewImporter(local, st.Transactions()).Import(cmd.Context(), in)
			if err != nil {
				return f.Fail("import failed", withCode(ErrCodeStore, err))
			}
			return f.Success(sum, fmt.Sprintf("Imported %d, skipped %d, failed %d (batch %s)",
				sum.Imported, sum.Skipped, sum.Failed, sum.BatchID))
		},
	}
}
