package main

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/models"
)

func searchFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tier", Usage: "Filter: leaves | branches | trunk | roots"},
		&cli.StringFlag{Name: "tag", Usage: "Filter: exact tag"},
		&cli.StringFlag{Name: "tree", Usage: "Filter: tree"},
		&cli.StringFlag{Name: "branch", Usage: "Filter: branch"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max results", Value: kb.DefaultSearchLimit},
	}
}

func filterFromFlags(cmd *cli.Command) (index.Filter, error) {
	f := index.Filter{
		Tree:   cmd.String("tree"),
		Branch: cmd.String("branch"),
		Tag:    cmd.String("tag"),
	}
	if t := cmd.String("tier"); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			return index.Filter{}, err
		}
		f.Tier = tier
	}
	return f, nil
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Aliases:   []string{"recall"},
		Usage:     "Semantic search with structural filters",
		ArgsUsage: "<query>",
		Flags:     searchFilterFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query, err := argAt(cmd, 0, "query")
			if err != nil {
				return err
			}
			f, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			results, err := k.Search(ctx, query, f, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func primeCommand() *cli.Command {
	return &cli.Command{
		Name:  "prime",
		Usage: "Summarize the store for a fresh agent session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			report, err := k.Prime(ctx)
			if err != nil {
				return err
			}

			s := report.Stats
			fmt.Printf("# grove: %d leaves across %d trees\n\n", s.Leaves, s.Trees)
			fmt.Printf("tiers: leaves=%d branches=%d trunk=%d roots=%d",
				s.Tiers["leaves"], s.Tiers["branches"], s.Tiers["trunk"], s.Tiers["roots"])
			if s.Pending > 0 {
				fmt.Printf("  (%d pending embeddings)", s.Pending)
			}
			fmt.Println()

			if len(report.TopTags) > 0 {
				parts := make([]string, 0, len(report.TopTags))
				for _, tc := range report.TopTags {
					parts = append(parts, fmt.Sprintf("%s(%d)", tc.Tag, tc.Count))
				}
				fmt.Printf("tags:  %s\n", strings.Join(parts, " "))
			}

			if len(report.Roots) > 0 {
				fmt.Println("\n## foundational knowledge")
				printResults(report.Roots)
			}
			if len(report.Recent) > 0 {
				fmt.Println("\n## recently updated")
				printResults(report.Recent)
			}
			return nil
		},
	}
}

func contextCommand() *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Rank knowledge relevant to a prompt, biased toward validated tiers",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "tags | lite | semantic", Value: string(kb.ContextSemantic)},
			&cli.FloatFlag{Name: "threshold", Usage: "Minimum score to include"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max results", Value: kb.DefaultSearchLimit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prompt, err := argAt(cmd, 0, "prompt")
			if err != nil {
				return err
			}
			mode := kb.ContextMode(cmd.String("mode"))
			switch mode {
			case kb.ContextTags, kb.ContextLite, kb.ContextSemantic:
			default:
				return fmt.Errorf("unknown mode %q (want tags, lite, or semantic)", mode)
			}

			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			results, err := k.Context(ctx, prompt, kb.ContextOptions{
				Mode:      mode,
				Threshold: cmd.Float("threshold"),
				Limit:     int(cmd.Int("limit")),
			})
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Flag stale, low-confidence, contradicted, and duplicated leaves (advisory only)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "stale-days", Usage: "Flag leaves older than this", Value: int64(kb.DefaultPruneOptions.StaleDays)},
			&cli.FloatFlag{Name: "min-confidence", Usage: "Flag leaves below this confidence", Value: kb.DefaultPruneOptions.MinConfidence},
			&cli.FloatFlag{Name: "similar-above", Usage: "Flag cross-branch pairs above this cosine", Value: kb.DefaultPruneOptions.SimilarAbove},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			candidates, err := k.Prune(ctx, kb.PruneOptions{
				StaleDays:     int(cmd.Int("stale-days")),
				MinConfidence: cmd.Float("min-confidence"),
				SimilarAbove:  cmd.Float("similar-above"),
			})
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				fmt.Println("nothing to flag")
				return nil
			}
			for _, c := range candidates {
				fmt.Printf("%s: %s", c.Path, c.Reason)
				if c.Counterpart != "" {
					fmt.Printf(" (vs %s)", c.Counterpart)
				}
				fmt.Println()
			}
			fmt.Printf("\n%d candidates; review and delete manually\n", len(candidates))
			return nil
		},
	}
}

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Link two leaves with a relation (supports, contradicts, refines, related_to, or custom)",
		ArgsUsage: "<from> <to> <relation>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			from, err := argAt(cmd, 0, "from")
			if err != nil {
				return err
			}
			to, err := argAt(cmd, 1, "to")
			if err != nil {
				return err
			}
			relation, err := argAt(cmd, 2, "relation")
			if err != nil {
				return err
			}
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()
			if err := k.Link(ctx, from, to, relation); err != nil {
				return err
			}
			fmt.Printf("%s -[%s]-> %s\n", from, relation, to)
			return nil
		},
	}
}

func unlinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "unlink",
		Usage:     "Remove a link",
		ArgsUsage: "<from> <to> <relation>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			from, err := argAt(cmd, 0, "from")
			if err != nil {
				return err
			}
			to, err := argAt(cmd, 1, "to")
			if err != nil {
				return err
			}
			relation, err := argAt(cmd, 2, "relation")
			if err != nil {
				return err
			}
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()
			if err := k.Unlink(ctx, from, to, relation); err != nil {
				return err
			}
			fmt.Printf("unlinked %s -[%s]-> %s\n", from, relation, to)
			return nil
		},
	}
}

func relatedCommand() *cli.Command {
	return &cli.Command{
		Name:      "related",
		Usage:     "Show leaves linked to a leaf, outgoing and incoming",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := argAt(cmd, 0, "path")
			if err != nil {
				return err
			}
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()
			entries, err := k.Related(ctx, path)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-20s %s", e.Relation, e.Path)
				if e.Excerpt != "" {
					fmt.Printf("  %s", truncate(e.Excerpt, 60))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func printResults(results []models.SearchResult) {
	for i, r := range results {
		fmt.Printf("%d. %s %s  (%.3f)\n", i+1, r.Tier.Marker(), r.Path, r.Score)
		if r.Excerpt != "" {
			fmt.Printf("   %s\n", truncate(r.Excerpt, 120))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
