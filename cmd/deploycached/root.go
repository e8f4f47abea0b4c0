package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantumsenses/go-deploy-cache/internal/app"
	"github.com/quantumsenses/go-deploy-cache/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deploycached",
		Short:         "Chat and container cache with background durable sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Optional .env for local development; absence is not an error.
			_ = godotenv.Load()
		},
	}

	root.AddCommand(newServeCmd(), newSyncOnceCmd(), newVersionCmd())
	return root
}

// newServeCmd runs the full service: reconciler loop plus ops HTTP server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache service and background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := a.Run(cmd.Context()); err != nil {
				log.Error().Err(err).Msg("service exited with error")
				return err
			}
			return nil
		},
	}
}

// newSyncOnceCmd runs a single reconciliation cycle and exits. Useful for
// cron-style deployments and debugging a stuck topic.
func newSyncOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run one reconciliation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			a.Reconciler.Cycle(cmd.Context())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}
