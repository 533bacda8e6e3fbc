package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDestroyCommand() *cobra.Command {
	var (
		workshopID string
		attendeeID string
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down attendee environments",
		Long: `Tear down cloud environments, either for a single attendee or for every
remaining attendee of a workshop.

Workshop teardown schedules one destroy job per attendee and waits for the
queue to drain before exiting.`,
		Example: `  # Tear down every environment of a workshop
  labforge destroy --workshop 3f6f9e2a

  # Tear down a single attendee's environment
  labforge destroy --attendee 9c1d47b0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (workshopID == "") == (attendeeID == "") {
				return fmt.Errorf("exactly one of --workshop or --attendee is required")
			}

			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if attendeeID != "" {
				if err := app.lifecycle.DestroyAttendee(ctx, attendeeID); err != nil {
					return err
				}
				fmt.Printf("Attendee %s destroyed\n", attendeeID)
				return nil
			}

			app.queue.Start(ctx)

			enqueued, err := app.reconciler.TeardownWorkshop(ctx, workshopID)
			if err != nil {
				return err
			}
			log.Info().Str("workshop_id", workshopID).Int("attendees", enqueued).Msg("Teardown scheduled")

			app.drainQueue(ctx)
			if err := ctx.Err(); err != nil {
				return err
			}

			fmt.Printf("Workshop %s teardown finished, %d environment(s) destroyed\n", workshopID, enqueued)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workshopID, "workshop", "w", "", "workshop ID to tear down")
	cmd.Flags().StringVarP(&attendeeID, "attendee", "a", "", "attendee ID to tear down")

	return cmd
}
