package main

import (
	"github.com/spf13/cobra"
)

func emitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "emit <topic> [json]",
		Short: "Emit an event",
		Long: `Emit an event to a topic. The payload is a JSON document; without one
the event carries null.

Examples:
  notif emit orders.created '{"order_id":"o1"}'
  notif emit deploys.finished`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := payload(args[1:])
			if err != nil {
				return err
			}
			c, err := g.client(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Emit(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), g.json)
			if g.json {
				return p.value(resp)
			}
			p.line("emitted %s to %s", resp.ID, resp.Topic)
			return nil
		},
	}
}
