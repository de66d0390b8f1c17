package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/privtx/internal/config"
)

// ConfigCheck is the JSON result of config validate.
type ConfigCheck struct {
	Valid             bool   `json:"valid"`
	Keys              int    `json:"keys"`
	Peers             int    `json:"peers"`
	CommunicationType string `json:"communicationType"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect node configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file without starting a node",
		Long: `Check the configuration against its schema and load every key pair.

All schema violations are reported at once.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			cfg, err := config.Load(rootOpts.Config)
			if err != nil {
				return f.Fail("invalid configuration", withCode(ErrCodeConfig, err))
			}
			pairs, err := cfg.KeyPairs()
			if err != nil {
				return f.Fail("invalid key pair", withCode(ErrCodeConfig, err))
			}

			check := ConfigCheck{
				Valid:             true,
				Keys:              len(pairs),
				Peers:             len(cfg.Peers),
				CommunicationType: cfg.Server.CommunicationType,
			}
			return f.Success(check, "✓ Configuration valid")
		},
	})
	return cmd
}
