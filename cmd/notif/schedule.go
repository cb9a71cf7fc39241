package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/notif-sh/notif-go/models"
	"github.com/spf13/cobra"
)

func scheduleCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules"},
		Short:   "Manage scheduled emits",
	}
	cmd.AddCommand(
		scheduleCreateCmd(g),
		scheduleListCmd(g),
		scheduleGetCmd(g),
		scheduleCancelCmd(g),
		scheduleRunCmd(g),
	)
	return cmd
}

func scheduleCreateCmd(g *globals) *cobra.Command {
	var (
		at string
		in string
	)

	cmd := &cobra.Command{
		Use:   "create <topic> [json]",
		Short: "Schedule an event",
		Long: `Schedule an event for a fixed time (--at) or after a delay (--in).

Examples:
  notif schedule create reminders.due '{"user":"u1"}' --in 30m
  notif schedule create reports.daily --at 2026-01-02T09:00:00Z`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (at == "") == (in == "") {
				return errors.New("exactly one of --at or --in is required")
			}
			data, err := payload(args[1:])
			if err != nil {
				return err
			}
			c, err := g.client(cmd)
			if err != nil {
				return err
			}

			var resp *models.CreateScheduleResponse
			if at != "" {
				when, perr := time.Parse(time.RFC3339, at)
				if perr != nil {
					return fmt.Errorf("--at: %w", perr)
				}
				resp, err = c.ScheduleAt(cmd.Context(), args[0], data, when)
			} else {
				resp, err = c.ScheduleIn(cmd.Context(), args[0], data, in)
			}
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), g.json)
			if g.json {
				return p.value(resp)
			}
			p.line("scheduled %s for %s", resp.ID, resp.ScheduledFor.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to emit at")
	cmd.Flags().StringVar(&in, "in", "", "delay before emitting, such as 30m or 2h")
	return cmd
}

func scheduleListCmd(g *globals) *cobra.Command {
	var opts struct {
		status string
		limit  int
		offset int
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			list, err := c.ListSchedules(cmd.Context(), models.ListSchedulesOptions{
				Status: models.ScheduleStatus(opts.status),
				Limit:  opts.limit,
				Offset: opts.offset,
			})
			if err != nil {
				return err
			}

			if g.json {
				return newPrinter(cmd.OutOrStdout(), true).value(list)
			}
			if len(list.Schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no schedules")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTOPIC\tSTATUS\tSCHEDULED FOR")
			for _, s := range list.Schedules {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Topic, s.Status, s.ScheduledFor.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.status, "status", "", "filter by status: pending, completed, cancelled or failed")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of schedules")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "schedules to skip")
	return cmd
}

func scheduleGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a scheduled event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			s, err := c.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), true).value(s)
		},
	}
}

func scheduleCancelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending scheduled event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			if err := c.CancelSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func scheduleRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Emit a scheduled event now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			resp, err := c.RunSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), g.json)
			if g.json {
				return p.value(resp)
			}
			p.line("emitted %s from schedule %s", resp.EventID, resp.ScheduleID)
			return nil
		},
	}
}
