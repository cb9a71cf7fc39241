package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notif-sh/notif-go/config"
	"github.com/notif-sh/notif-go/notif"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

var errNoAPIKey = errors.New("no API key configured: run 'notif config set api_key <key>' or set " + config.EnvAPIKey)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	server     string
	apiKey     string
	json       bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "notif",
		Short: "Emit and consume notif.sh events",
		Long: `notif talks to a notif.sh server: emit events, subscribe to topic
patterns with at-least-once delivery, and manage scheduled emits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/notif/config.yaml)")
	flags.StringVar(&g.server, "server", "", "server URL, overrides the config file and "+config.EnvServer)
	flags.StringVar(&g.apiKey, "api-key", "", "API key, overrides the config file and "+config.EnvAPIKey)
	flags.BoolVar(&g.json, "json", false, "print JSON instead of text")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log connection activity to stderr")

	cmd.AddCommand(
		emitCmd(g),
		subscribeCmd(g),
		scheduleCmd(g),
		configCmd(g),
		versionCmd(),
	)
	return cmd
}

func (g *globals) path() (string, error) {
	if g.configPath != "" {
		return g.configPath, nil
	}
	return config.DefaultPath()
}

// load returns the effective configuration: file, then environment, then flags.
func (g *globals) load() (config.File, error) {
	path, err := g.path()
	if err != nil {
		return config.File{}, err
	}
	f, err := config.Load(path)
	if err != nil {
		return f, err
	}
	if g.server != "" {
		f.Server = g.server
	}
	if g.apiKey != "" {
		f.APIKey = g.apiKey
	}
	return f, nil
}

func (g *globals) logger(cmd *cobra.Command) *slog.Logger {
	if !g.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (g *globals) client(cmd *cobra.Command) (*notif.Client, error) {
	f, err := g.load()
	if err != nil {
		return nil, err
	}
	if f.APIKey == "" {
		return nil, errNoAPIKey
	}
	return notif.FromConfig(f, notif.WithLogger(g.logger(cmd)))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notif %s (%s)\n", version, commit)
		},
	}
}
