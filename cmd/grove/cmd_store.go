package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/grovekb/grove/internal/api"
	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/embedserver"
	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/mcpserver"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a store in the current project (.grove directory)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Embedding provider: lite or server",
				Value: embedding.ProviderLite,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model alias for the server provider",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := kb.DiscoverRoot()
			if err != nil {
				return err
			}

			cfg := kb.NewDefaultStoreConfig()
			cfg.Provider = cmd.String("provider")
			if cfg.Provider == embedding.ProviderServer {
				alias := cmd.String("model")
				if alias == "" {
					global, err := kb.LoadGlobalConfig()
					if err != nil {
						return err
					}
					alias = global.Model
				}
				model, err := embedserver.ResolveModel(alias)
				if err != nil {
					return err
				}
				cfg.Model = model.Alias
				cfg.Dimensions = model.Dimensions
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return err
			}
			if err := kb.SaveStoreConfig(root, cfg); err != nil {
				return err
			}

			k, err := kb.Init(root, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			fmt.Printf("initialized store at %s (provider=%s, dimensions=%d)\n",
				root, cfg.Provider, cfg.Dimensions)
			return nil
		},
	}
}

func treeCommand() *cli.Command {
	return &cli.Command{
		Name:  "tree",
		Usage: "Create and list trees (top-level knowledge domains)",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a tree",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name, err := argAt(cmd, 0, "name")
					if err != nil {
						return err
					}
					k, err := openKB(cmd, cliLogger(cmd))
					if err != nil {
						return err
					}
					defer k.Close()
					t, err := k.CreateTree(name, cmd.String("description"))
					if err != nil {
						return err
					}
					fmt.Printf("created tree %s/\n", t.Name)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List trees with branch and leaf counts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					k, err := openKB(cmd, cliLogger(cmd))
					if err != nil {
						return err
					}
					defer k.Close()
					trees, err := k.ListTrees()
					if err != nil {
						return err
					}
					for _, t := range trees {
						fmt.Printf("%s/  (%d branches, %d leaves)", t.Name, t.Branches, t.Leaves)
						if t.Description != "" {
							fmt.Printf("  # %s", t.Description)
						}
						fmt.Println()
					}
					return nil
				},
			},
		},
	}
}

func branchCommand() *cli.Command {
	return &cli.Command{
		Name:  "branch",
		Usage: "Create and list branches within a tree",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a branch under a tree",
				ArgsUsage: "<tree> <name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					tree, err := argAt(cmd, 0, "tree")
					if err != nil {
						return err
					}
					name, err := argAt(cmd, 1, "name")
					if err != nil {
						return err
					}
					k, err := openKB(cmd, cliLogger(cmd))
					if err != nil {
						return err
					}
					defer k.Close()
					b, err := k.CreateBranch(tree, name, cmd.String("description"))
					if err != nil {
						return err
					}
					fmt.Printf("created branch %s/%s/\n", b.Tree, b.Name)
					return nil
				},
			},
			{
				Name:      "list",
				Usage:     "List the branches of a tree",
				ArgsUsage: "<tree>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					tree, err := argAt(cmd, 0, "tree")
					if err != nil {
						return err
					}
					k, err := openKB(cmd, cliLogger(cmd))
					if err != nil {
						return err
					}
					defer k.Close()
					branches, err := k.ListBranches(tree)
					if err != nil {
						return err
					}
					for _, b := range branches {
						fmt.Printf("%s/%s/  (%d leaves)", b.Tree, b.Name, b.Leaves)
						if b.Description != "" {
							fmt.Printf("  # %s", b.Description)
						}
						fmt.Println()
					}
					return nil
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show store health: counts per tier, links, pending embeddings",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()
			s, err := k.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("store      %s\n", s.Root)
			fmt.Printf("provider   %s (%s, %d dims)\n", s.Provider, s.Model, s.Dimensions)
			fmt.Printf("trees      %d\n", s.Trees)
			fmt.Printf("branches   %d\n", s.Branches)
			fmt.Printf("leaves     %d\n", s.Leaves)
			fmt.Printf("links      %d\n", s.Links)
			tiers := make([]string, 0, len(s.Tiers))
			for t := range s.Tiers {
				tiers = append(tiers, t)
			}
			sort.Strings(tiers)
			for _, t := range tiers {
				fmt.Printf("  %-9s %d\n", t, s.Tiers[t])
			}
			if s.Pending > 0 {
				fmt.Printf("pending    %d leaves await embeddings (run `grove reindex`)\n", s.Pending)
			}
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the index from the canonical files (atomic swap)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := cliLogger(cmd)
			k, err := openKB(cmd, logger)
			if errors.Is(err, apperr.ErrDimensionMismatch) {
				// The provider changed under the index; reindex is the repair.
				root, derr := kb.DiscoverRoot()
				if derr != nil {
					return derr
				}
				k, err = kb.OpenForReindex(root, logger)
			}
			if err != nil {
				return err
			}
			defer k.Close()
			n, err := k.Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reindexed %d leaves\n", n)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep the index in step with external file edits",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := jsonLogger(cmd)
			k, err := openKB(cmd, logger)
			if err != nil {
				return err
			}
			defer k.Close()
			if err := k.Sync(ctx); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return k.Watch(ctx, nil)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: "127.0.0.1:7644",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := jsonLogger(cmd)
			k, err := openKB(cmd, logger)
			if err != nil {
				return err
			}
			defer k.Close()
			return api.Serve(ctx, k, cmd.String("addr"), logger)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio for agent integration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()
			if err := k.Sync(ctx); err != nil {
				return err
			}
			return mcpserver.New(k).ServeStdio()
		},
	}
}
