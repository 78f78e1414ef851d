package cli

import (
	"github.com/spf13/cobra"

	"github.com/urbanpulse/demandmap/internal/bootstrap"
	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
)

// loadServerConfig resolves configuration for long-running commands:
// explicit file when --config is set, environment otherwise.
func loadServerConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	return config.LoadFromEnv()
}

// NewServeCmd creates the serve subcommand, booting the full HTTP API.
func NewServeCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demand-analysis HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(opts)
			if err != nil {
				return err
			}

			log, err := logging.NewLogger(logging.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
			})
			if err != nil {
				return err
			}

			return bootstrap.RunAPIServer(cfg, log)
		},
	}
}
