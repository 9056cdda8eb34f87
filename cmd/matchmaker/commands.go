package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/example/event-matchmaker/internal/application"
	"github.com/example/event-matchmaker/internal/matching"
	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/seed"
)

type migrateReport struct {
	Driver         string `json:"driver"`
	CurrentVersion string `json:"current_version"`
	Applied        int    `json:"applied"`
	Pending        int    `json:"pending"`
}

type seedReport struct {
	EventID   string `json:"event_id"`
	Venues    int    `json:"venues"`
	Locations int    `json:"locations"`
	Sessions  int    `json:"sessions"`
	Members   int    `json:"members"`
}

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and report the schema version",
		Args:  cobra.NoArgs,
		RunE: c.run("migrate", func(ctx context.Context, a *app, _ []string) (any, error) {
			if a.sql == nil {
				return nil, errors.New("migrate requires the sqlite or postgres driver")
			}
			status, err := a.sql.MigrationStatus(ctx)
			if err != nil {
				return nil, err
			}
			return migrateReport{
				Driver:         a.sql.Driver(),
				CurrentVersion: status.CurrentVersion,
				Applied:        len(status.Applied),
				Pending:        len(status.Pending),
			}, nil
		}),
	}
}

func (c *cli) seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load an event layout and attendee profiles from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: c.run("seed", func(ctx context.Context, a *app, args []string) (any, error) {
			file, err := seed.LoadFile(args[0])
			if err != nil {
				return nil, err
			}
			if err := seed.Apply(ctx, a.store, file, a.now()); err != nil {
				return nil, err
			}
			return seedReport{
				EventID:   file.Event.ID,
				Venues:    len(file.Venues),
				Locations: len(file.Locations),
				Sessions:  len(file.Sessions),
				Members:   len(file.Members),
			}, nil
		}),
	}
}

func (c *cli) suggestCommand() *cobra.Command {
	var eventID, userID string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank candidate attendees for a seeker",
		Args:  cobra.NoArgs,
		RunE: c.run("suggest", func(ctx context.Context, a *app, _ []string) (any, error) {
			candidates, err := a.candidates.Suggest(ctx, eventID, userID)
			if err != nil {
				return nil, err
			}
			if candidates == nil {
				candidates = []matching.Candidate{}
			}
			return candidates, nil
		}),
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event ID")
	cmd.Flags().StringVar(&userID, "user", "", "seeker user ID")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) interactionCommand(action persistence.InteractionAction) *cobra.Command {
	var eventID, userID, targetID string
	cmd := &cobra.Command{
		Use:   string(action),
		Short: "Record a " + string(action) + " from one attendee toward another",
		Args:  cobra.NoArgs,
		RunE: c.run("record_"+string(action), func(ctx context.Context, a *app, _ []string) (any, error) {
			return a.interaction.RecordInteraction(ctx, application.RecordInteractionInput{
				EventID:  eventID,
				SeekerID: userID,
				TargetID: targetID,
				Action:   action,
			})
		}),
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event ID")
	cmd.Flags().StringVar(&userID, "user", "", "acting user ID")
	cmd.Flags().StringVar(&targetID, "target", "", "target user ID")
	for _, name := range []string{"event", "user", "target"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *cli) assignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "assign MATCH_ID",
		Short: "Allocate a meeting for one confirmed match",
		Args:  cobra.ExactArgs(1),
		RunE: c.run("auto_assign", func(ctx context.Context, a *app, args []string) (any, error) {
			return a.allocation.AutoAssign(ctx, args[0])
		}),
	}
}

func (c *cli) allocateCommand() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate meetings for every unscheduled match of an event",
		Args:  cobra.NoArgs,
		RunE: c.run("allocate_event", func(ctx context.Context, a *app, _ []string) (any, error) {
			return a.allocation.AllocateEvent(ctx, eventID)
		}),
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event ID")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func (c *cli) availabilityCommand() *cobra.Command {
	var (
		eventID, userID string
		sessionIDs      []string
	)
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Replace an attendee's session availability and reconcile their meetings",
		Args:  cobra.NoArgs,
		RunE: c.run("replace_availability", func(ctx context.Context, a *app, _ []string) (any, error) {
			return a.reconciliation.ReplaceAvailability(ctx, eventID, userID, sessionIDs)
		}),
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event ID")
	cmd.Flags().StringVar(&userID, "user", "", "attendee user ID")
	cmd.Flags().StringSliceVar(&sessionIDs, "sessions", nil, "comma separated session IDs; empty clears availability")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status MATCH_ID",
		Short: "Show the allocation state of a match",
		Args:  cobra.ExactArgs(1),
		RunE: c.run("assignment_status", func(ctx context.Context, a *app, args []string) (any, error) {
			return a.allocation.AssignmentStatus(ctx, args[0])
		}),
	}
}
