package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/grovekb/grove/internal/embedserver"
	"github.com/grovekb/grove/internal/kb"
)

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Manage the embedding server daemon",
		Commands: []*cli.Command{
			serverStartCommand(),
			serverStopCommand(),
			serverStatusCommand(),
			serverModelCommand(),
			serverRunCommand(),
		},
	}
}

func serverStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the embedding daemon (no-op when already running)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model alias (default from global config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			alias := cmd.String("model")
			if alias == "" {
				global, err := kb.LoadGlobalConfig()
				if err != nil {
					return err
				}
				alias = global.Model
			}
			logPath := filepath.Join(os.TempDir(), "grove-embedder.log")
			st, err := embedserver.Start(ctx, alias, logPath)
			if err != nil {
				return err
			}
			fmt.Printf("embedding server running: model=%s dim=%d pid=%d\n", st.Model, st.Dim, st.PID)
			return nil
		},
	}
}

func serverStopCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Stop the embedding daemon (no-op when not running)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := embedserver.StopDaemon(ctx); err != nil {
				return err
			}
			fmt.Println("embedding server stopped")
			return nil
		},
	}
}

func serverStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Report whether the daemon is running and which model it holds",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st := embedserver.CurrentStatus(ctx)
			if !st.Running {
				fmt.Println("embedding server: not running")
				return nil
			}
			fmt.Printf("embedding server: running  model=%s dim=%d pid=%d\n", st.Model, st.Dim, st.PID)
			return nil
		},
	}
}

func serverModelCommand() *cli.Command {
	return &cli.Command{
		Name:      "model",
		Usage:     "Show or set the server's model alias (restart required to take effect)",
		ArgsUsage: "[alias]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			alias := cmd.Args().Get(0)
			if alias == "" {
				global, err := kb.LoadGlobalConfig()
				if err != nil {
					return err
				}
				fmt.Printf("configured model: %s\n", global.Model)
				fmt.Println("\navailable models:")
				for _, m := range embedserver.Models() {
					fmt.Printf("  %-10s %-22s %4d dims  %s\n", m.Alias, m.Runtime, m.Dimensions, m.Footprint)
				}
				return nil
			}

			model, err := embedserver.ResolveModel(alias)
			if err != nil {
				return err
			}
			if err := kb.SaveGlobalConfig(kb.GlobalConfig{Model: model.Alias}); err != nil {
				return err
			}
			fmt.Printf("model set to %s (%d dims)\n", model.Alias, model.Dimensions)

			if st := embedserver.CurrentStatus(ctx); st.Running && st.Model != model.Alias {
				fmt.Printf("daemon is running with %s; restart to load %s:\n", st.Model, model.Alias)
				fmt.Println("  grove server stop && grove server start")
			}
			return nil
		},
	}
}

// serverRunCommand is the daemon entry point; `server start` execs it
// detached. Runs in the foreground until terminated.
func serverRunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the embedding server in the foreground",
		Hidden: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model alias", Value: embedserver.DefaultModel},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := embedserver.ResolveModel(cmd.String("model"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := embedserver.NewServer(model, nil, jsonLogger(cmd))
			return srv.Run(ctx)
		},
	}
}
