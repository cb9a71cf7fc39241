package main

import (
	"fmt"

	"github.com/notif-sh/notif-go/config"
	"github.com/spf13/cobra"
)

func configCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the CLI configuration",
	}
	cmd.AddCommand(configSetCmd(g), configShowCmd(g))
	return cmd
}

func configSetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "set <api_key|server> <value>",
		Short:     "Set a configuration value",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"api_key", "server"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.path()
			if err != nil {
				return err
			}
			// Environment overrides are not written back.
			f, err := config.Read(path)
			if err != nil {
				return err
			}

			switch args[0] {
			case "api_key":
				f.APIKey = args[1]
			case "server":
				f.Server = args[1]
			default:
				return fmt.Errorf("unknown key %q: want api_key or server", args[0])
			}

			if err := config.Save(path, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", args[0], path)
			return nil
		},
	}
}

func configShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.path()
			if err != nil {
				return err
			}
			f, err := g.load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:  %s\n", path)
			fmt.Fprintf(out, "server:  %s\n", f.Server)
			fmt.Fprintf(out, "api_key: %s\n", mask(f.APIKey))
			return nil
		},
	}
}

func mask(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:8] + "****"
	}
}
