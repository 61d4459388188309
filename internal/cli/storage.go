package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-authserver/internal/bootstrap"
	"github.com/giantswarm/oauth-authserver/storage"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the relational schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.cfg.Storage.IsSQL() {
				return fmt.Errorf("migrate requires sqlite, postgres or mysql storage, got %q", opts.cfg.Storage.Type)
			}

			storageCfg := opts.cfg.Storage
			storageCfg.AutoMigrate = true
			_, closeStore, err := bootstrap.OpenStore(cmd.Context(), storageCfg, opts.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", storageCfg.Type)
			return nil
		},
	}
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired authorization codes and tokens once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := bootstrap.OpenStore(cmd.Context(), opts.cfg.Storage, opts.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			sweeper, ok := store.(storage.Sweeper)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s storage expires rows natively, nothing to sweep\n", opts.cfg.Storage.Type)
				return nil
			}

			n, err := sweeper.DeleteExpired(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired rows\n", n)
			return nil
		},
	}
}
