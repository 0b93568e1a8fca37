// Command grove is a persistent knowledge base for coding agents: markdown
// leaves organized into trees and branches, indexed into SQLite with
// embeddings for semantic recall.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/grovekb/grove/internal/kb"
)

func main() {
	cmd := &cli.Command{
		Name:  "grove",
		Usage: "Agent knowledge base: markdown leaves, semantic recall, knowledge graph",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			treeCommand(),
			branchCommand(),
			addCommand(),
			getCommand(),
			updateCommand(),
			deleteCommand(),
			searchCommand(),
			showCommand(),
			tagsCommand(),
			linkCommand(),
			unlinkCommand(),
			relatedCommand(),
			statsCommand(),
			reindexCommand(),
			primeCommand(),
			contextCommand(),
			pruneCommand(),
			watchCommand(),
			serveCommand(),
			mcpCommand(),
			serverCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "grove: %v\n", err)
		os.Exit(1)
	}
}

// cliLogger builds a text logger on stderr; stdout stays reserved for
// command output.
func cliLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// jsonLogger is used by the long-running modes (serve, watch, server run).
func jsonLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// openKB opens the store discovered from GROVE_PATH or the nearest .grove
// directory. It does not create stores; that is what init is for.
func openKB(cmd *cli.Command, logger *slog.Logger) (*kb.KnowledgeBase, error) {
	root, err := kb.DiscoverRoot()
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("no store found at %s (run `grove init` first)", root)
	}
	return kb.Open(root, logger)
}

// argAt returns the positional argument at i or an error naming it.
func argAt(cmd *cli.Command, i int, name string) (string, error) {
	v := cmd.Args().Get(i)
	if v == "" {
		return "", errors.New("missing argument: " + name)
	}
	return v, nil
}
