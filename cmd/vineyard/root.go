package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/config"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// configEnv names the environment variable consulted when --config is not
// given.
const configEnv = "VINEYARD_CONFIG"

// options are the flags shared by every command.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "vineyard",
		Short:         "Service registry and API gateway",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: $"+configEnv+", then built-in defaults)")

	root.AddCommand(
		newServeCmd(opts),
		newServicesCmd(opts),
		newEnvironmentsCmd(opts),
		newMaintainersCmd(opts),
		newAPIsCmd(opts),
		newDeploymentsCmd(opts),
	)
	return root
}

// loadConfig resolves the config path from the flag or the environment.
func (o *options) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured store, creating the schema on first use.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, *registry.Registry, error) {
	db, err := database.Open(cfg.Database())
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Bootstrap(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("bootstrapping store: %w", err)
	}
	reg := registry.NewRegistry(registry.NewSQLRepository(db), cfg.GetCacheTTL(), cfg.GetCacheCleanup())
	return db, reg, nil
}
