package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/models"
)

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Store a new leaf; content from the argument or stdin (-)",
		ArgsUsage: "<content|->",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tree", Aliases: []string{"t"}, Usage: "Tree name (optional when branch is unambiguous)"},
			&cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Usage: "Branch name", Required: true},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Leaf name (slug derived from content when omitted)"},
			&cli.StringFlag{Name: "tier", Usage: "leaves | branches | trunk | roots", Value: string(models.TierLeaves)},
			&cli.FloatFlag{Name: "confidence", Aliases: []string{"c"}, Usage: "Confidence in [0.0, 1.0]", Value: 0.5},
			&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			content, err := argAt(cmd, 0, "content")
			if err != nil {
				return err
			}
			if content == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				content = string(data)
			}

			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			leaf, err := k.AddLeaf(ctx, kb.AddLeafParams{
				Tree:       cmd.String("tree"),
				Branch:     cmd.String("branch"),
				Name:       cmd.String("name"),
				Content:    content,
				Tier:       models.Tier(cmd.String("tier")),
				Confidence: cmd.Float("confidence"),
				Tags:       cmd.StringSlice("tag"),
			})
			if err != nil {
				return err
			}
			fmt.Println(leaf.Path)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Read a leaf by exact path",
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
			leaf, err := k.GetLeaf(ctx, path)
			if err != nil {
				return err
			}
			printLeaf(leaf)
			return nil
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Partially update a leaf's tier, confidence, tags, or content",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tier", Usage: "New tier"},
			&cli.FloatFlag{Name: "confidence", Aliases: []string{"c"}, Usage: "New confidence", Value: -1},
			&cli.StringSliceFlag{Name: "tag", Usage: "Replacement tag set (repeatable)"},
			&cli.StringFlag{Name: "content", Usage: "Replacement body"},
		},
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

			var p kb.UpdateLeafParams
			if cmd.IsSet("tier") {
				v := cmd.String("tier")
				p.Tier = &v
			}
			if cmd.IsSet("confidence") {
				v := cmd.Float("confidence")
				p.Confidence = &v
			}
			if cmd.IsSet("tag") {
				p.Tags = cmd.StringSlice("tag")
			}
			if cmd.IsSet("content") {
				v := cmd.String("content")
				p.Content = &v
			}

			leaf, err := k.UpdateLeaf(ctx, path, p)
			if err != nil {
				return err
			}
			printLeaf(leaf)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Remove a leaf, its index row, and any links touching it",
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
			if err := k.DeleteLeaf(ctx, path); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", path)
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Render a tree's branches and leaves with tier markers",
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
			out, err := k.ShowTree(ctx, tree)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func tagsCommand() *cli.Command {
	return &cli.Command{
		Name:      "tags",
		Usage:     "List all tags with counts, or the leaves carrying a tag",
		ArgsUsage: "[tag]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			k, err := openKB(cmd, cliLogger(cmd))
			if err != nil {
				return err
			}
			defer k.Close()

			if tag := cmd.Args().Get(0); tag != "" {
				results, err := k.SearchByTags(ctx, tag, 100)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Printf("%s %s\n", r.Tier.Marker(), r.Path)
				}
				return nil
			}

			counts, err := k.Tags(ctx)
			if err != nil {
				return err
			}
			for _, tc := range counts {
				fmt.Printf("%-24s %d\n", tc.Tag, tc.Count)
			}
			return nil
		},
	}
}

func printLeaf(leaf *models.Leaf) {
	fmt.Printf("path:       %s\n", leaf.Path)
	fmt.Printf("tier:       %s\n", leaf.Tier)
	fmt.Printf("confidence: %.2f\n", leaf.Confidence)
	if len(leaf.Tags) > 0 {
		fmt.Printf("tags:       %s\n", strings.Join(leaf.Tags, ", "))
	}
	fmt.Printf("updated:    %s\n", leaf.UpdatedAt.Format("2006-01-02 15:04"))
	fmt.Println()
	fmt.Println(leaf.Content)
}
