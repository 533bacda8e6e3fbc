package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techlabs/labforge/pkg/jobs"
)

func newDeployCommand() *cobra.Command {
	var (
		workshopID string
		attendeeID string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Provision attendee environments",
		Long: `Provision cloud environments synchronously, either for a single attendee
or for every attendee of a workshop in registration order.

A workshop deployment never stops at a failed attendee; each failure is
recorded and the run continues with the next one.`,
		Example: `  # Deploy every attendee of a workshop
  labforge deploy --workshop 3f6f9e2a

  # Deploy a single attendee
  labforge deploy --attendee 9c1d47b0`,
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
				if err := app.lifecycle.DeployAttendee(ctx, attendeeID); err != nil {
					return err
				}
				fmt.Printf("Attendee %s deployed\n", attendeeID)
				return nil
			}

			log.Info().Str("workshop_id", workshopID).Msg("Starting sequential deployment")

			progress := &jobs.LogProgress{Logger: app.tel.Logger.WithWorkshopID(workshopID)}
			report, err := app.coordinator.DeploySequential(ctx, workshopID, progress)
			if err != nil {
				return err
			}

			fmt.Printf("Deployed: %d  Failed: %d  Workshop status: %s\n",
				report.Deployed, report.Failed, report.WorkshopStatus)
			fmt.Println(report.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workshopID, "workshop", "w", "", "workshop ID to deploy")
	cmd.Flags().StringVarP(&attendeeID, "attendee", "a", "", "attendee ID to deploy")

	return cmd
}
