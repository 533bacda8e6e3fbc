package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techlabs/labforge/pkg/jobs"
	"github.com/techlabs/labforge/pkg/provisioner"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator service",
		Long: `Run the long-lived orchestrator: the background job queue, the periodic
reconciliation sweeps, the workspace directory watcher and the metrics
endpoint. The process runs until interrupted.`,
		Example: `  # Run with the default configuration
  labforge serve

  # Run with an explicit config file
  labforge serve --config /etc/labforge/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if app.cfg.Metrics.Enabled {
				if err := app.tel.StartMetricsServer(); err != nil {
					return err
				}
				log.Info().Str("address", app.cfg.Metrics.ListenAddress).Msg("Metrics endpoint started")
			}

			app.queue.Start(ctx)

			scheduler := jobs.NewScheduler(app.cfg.Jobs.SweepInterval(), app.reconciler.RunAll, app.tel.Logger)
			go scheduler.Start(ctx)

			// Workspace changes behind the orchestrator's back trigger a
			// reconciliation pass. A watch failure degrades to sweeps only.
			watcher, err := provisioner.NewWatcher(app.cfg.Terraform.WorkspaceRoot, app.tel.Logger)
			if err != nil {
				log.Warn().Err(err).Msg("Workspace watcher unavailable, relying on periodic sweeps")
			} else {
				go func() {
					err := watcher.Watch(ctx, func(ev provisioner.WorkspaceEvent) {
						if !ev.Removed {
							return
						}
						if err := app.queue.Enqueue(jobSweepWorkspaces); err != nil {
							log.Warn().Err(err).Str("workspace", ev.Workspace).Msg("Failed to enqueue workspace sweep")
						}
					})
					if err != nil {
						log.Warn().Err(err).Msg("Workspace watcher stopped")
					}
				}()
			}

			log.Info().
				Str("database", app.cfg.Database.Path).
				Str("workspaces", app.cfg.Terraform.WorkspaceRoot).
				Dur("sweep_interval", app.cfg.Jobs.SweepInterval()).
				Msg("Orchestrator running")

			<-ctx.Done()

			log.Info().Msg("Shutting down, waiting for in-flight jobs")
			app.queue.Wait()
			return nil
		},
	}

	return cmd
}
