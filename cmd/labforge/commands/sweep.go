package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [name]",
		Short: "Run reconciliation sweeps once",
		Long: `Run one or all of the reconciliation sweeps and exit. Without an argument
every sweep runs in order.

Available sweeps:
  end-date  complete workshops past their end date
  expiry    tear down workshops past their deletion deadline
  stuck     fail deployments that stopped making progress
  settled   settle workshop statuses after all attendees finished
  health    fail active attendees whose workspace is gone or empty
  orphans   remove workspaces no live attendee owns`,
		Example: `  # Run every sweep
  labforge sweep

  # Run only the expiry sweep
  labforge sweep expiry`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			// Expiry teardowns go through the queue
			app.queue.Start(ctx)

			sweeps := []struct {
				name string
				run  func(context.Context) (int, error)
			}{
				{"end-date", app.reconciler.SweepEndedWorkshops},
				{"expiry", app.reconciler.SweepExpiredWorkshops},
				{"stuck", app.reconciler.SweepStuckDeployments},
				{"settled", app.reconciler.SweepSettledWorkshops},
				{"health", app.reconciler.SweepUnhealthyAttendees},
				{"orphans", app.reconciler.SweepOrphanWorkspaces},
			}

			selected := ""
			if len(args) == 1 {
				selected = args[0]
			}

			ran := 0
			for _, sweep := range sweeps {
				if selected != "" && sweep.name != selected {
					continue
				}
				touched, err := sweep.run(ctx)
				if err != nil {
					return fmt.Errorf("%s sweep failed: %w", sweep.name, err)
				}
				fmt.Printf("%-10s %d touched\n", sweep.name, touched)
				ran++
			}
			if ran == 0 {
				names := make([]string, len(sweeps))
				for i, sweep := range sweeps {
					names[i] = sweep.name
				}
				return fmt.Errorf("unknown sweep %q (one of: %s)", selected, strings.Join(names, ", "))
			}

			app.drainQueue(ctx)
			return ctx.Err()
		},
	}

	return cmd
}
