package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/techlabs/labforge/pkg/orchestrator"
)

func newWorkshopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workshop",
		Short: "Manage workshops and attendees",
	}

	cmd.AddCommand(newWorkshopCreateCommand())
	cmd.AddCommand(newWorkshopListCommand())
	cmd.AddCommand(newWorkshopShowCommand())
	cmd.AddCommand(newWorkshopDeleteCommand())
	cmd.AddCommand(newWorkshopAddAttendeeCommand())

	return cmd
}

func newWorkshopCreateCommand() *cobra.Command {
	var (
		name        string
		description string
		startDate   string
		endDate     string
		timezone    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workshop",
		Long: `Create a workshop in planning state. The teardown deadline is derived from
the end date, the workshop timezone and the configured retention window.`,
		Example: `  # Create a two-day workshop in Paris time
  labforge workshop create --name "Kubernetes Intro" \
    --start 2026-09-14 --end 2026-09-16 --timezone Europe/Paris`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(startDate)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := parseDate(endDate)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			workshop, err := app.service.CreateWorkshop(ctx, &orchestrator.Workshop{
				Name:        name,
				Description: description,
				StartDate:   start,
				EndDate:     end,
				Timezone:    timezone,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(workshop)
			}
			fmt.Printf("Workshop %s created (%s)\n", workshop.ID, workshop.Name)
			if workshop.DeletionScheduledAt != nil {
				fmt.Printf("Environments scheduled for removal at %s\n",
					workshop.DeletionScheduledAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "workshop name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "workshop description")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone, e.g. Europe/Paris")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func newWorkshopListCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workshops",
		Example: `  # List every workshop
  labforge workshop list

  # List only active workshops
  labforge workshop list --status active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			statuses := []orchestrator.WorkshopStatus{
				orchestrator.WorkshopStatusPlanning,
				orchestrator.WorkshopStatusDeploying,
				orchestrator.WorkshopStatusActive,
				orchestrator.WorkshopStatusCompleted,
				orchestrator.WorkshopStatusDeleting,
				orchestrator.WorkshopStatusFailed,
			}
			if status != "" {
				s := orchestrator.WorkshopStatus(status)
				if err := s.Validate(); err != nil {
					return err
				}
				statuses = []orchestrator.WorkshopStatus{s}
			}

			workshops, err := app.store.ListWorkshopsByStatus(ctx, statuses...)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(workshops)
			}
			fmt.Printf("%-36s  %-10s  %-10s  %-10s  %s\n", "ID", "STATUS", "START", "END", "NAME")
			for _, w := range workshops {
				fmt.Printf("%-36s  %-10s  %-10s  %-10s  %s\n",
					w.ID, w.Status,
					w.StartDate.Format("2006-01-02"),
					w.EndDate.Format("2006-01-02"),
					w.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by workshop status")

	return cmd
}

func newWorkshopShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workshop-id>",
		Short: "Show a workshop and its attendees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			workshop, err := app.service.GetWorkshop(ctx, args[0])
			if err != nil {
				return err
			}
			attendees, err := app.service.ListAttendees(ctx, workshop.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Workshop  *orchestrator.Workshop   `json:"workshop"`
					Attendees []*orchestrator.Attendee `json:"attendees"`
				}{workshop, attendees})
			}

			fmt.Printf("Workshop:  %s (%s)\n", workshop.Name, workshop.ID)
			fmt.Printf("Status:    %s\n", workshop.Status)
			fmt.Printf("Dates:     %s to %s (%s)\n",
				workshop.StartDate.Format("2006-01-02"),
				workshop.EndDate.Format("2006-01-02"),
				workshop.Location())
			if workshop.DeletionScheduledAt != nil {
				fmt.Printf("Teardown:  %s\n", workshop.DeletionScheduledAt.Format(time.RFC3339))
			}
			fmt.Printf("Attendees: %d\n\n", len(attendees))

			fmt.Printf("%-36s  %-10s  %-20s  %s\n", "ID", "STATUS", "USERNAME", "EMAIL")
			for _, a := range attendees {
				fmt.Printf("%-36s  %-10s  %-20s  %s\n", a.ID, a.Status, a.Username, a.Email)
			}
			return nil
		},
	}

	return cmd
}

func newWorkshopDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <workshop-id>",
		Short: "Delete a workshop record",
		Long: `Delete a workshop and its attendee records. Refused while any attendee
still has, or is transitioning to, a live environment; run destroy first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if err := app.service.DeleteWorkshop(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Workshop %s deleted\n", args[0])
			return nil
		},
	}

	return cmd
}

func newWorkshopAddAttendeeCommand() *cobra.Command {
	var (
		workshopID string
		username   string
		email      string
	)

	cmd := &cobra.Command{
		Use:   "add-attendee",
		Short: "Register an attendee",
		Example: `  labforge workshop add-attendee --workshop 3f6f9e2a \
    --username alice --email alice@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			attendee, err := app.service.RegisterAttendee(ctx, &orchestrator.Attendee{
				WorkshopID: workshopID,
				Username:   username,
				Email:      email,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(attendee)
			}
			fmt.Printf("Attendee %s registered (%s)\n", attendee.ID, attendee.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workshopID, "workshop", "w", "", "workshop ID")
	cmd.Flags().StringVarP(&username, "username", "u", "", "attendee username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "attendee email")
	_ = cmd.MarkFlagRequired("workshop")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// parseDate accepts RFC3339 timestamps and bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
