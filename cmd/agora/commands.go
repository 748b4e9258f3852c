package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bluesky-social/agora/models"
	"github.com/bluesky-social/agora/scoring"
	"github.com/bluesky-social/agora/util/cliutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

var scoreOnceCmd = &cli.Command{
	Name:  "score-once",
	Usage: "run a single scoring cycle and print its summary",
	Flags: scoringFlags,
	Action: func(cctx *cli.Context) error {
		logger := cliutil.ConfigLogger(cctx, os.Stderr)
		c, err := setupComponents(cctx, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		summary, err := c.pipeline.Run(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

// epochAction wraps an operator command acting on the current epoch and prints the result.
func epochAction(fn func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error)) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		logger := cliutil.ConfigLogger(cctx, os.Stderr)
		c, err := setupComponents(cctx, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		epoch, err := fn(cctx, c, cliActor())
		if err != nil {
			return err
		}
		count, err := c.mgr.CountVotes(cctx.Context, epoch.ID)
		if err != nil {
			return err
		}
		return printJSON(epochView(epoch, count))
	}
}

var durationFlag = &cli.DurationFlag{
	Name:  "duration",
	Usage: "length of the voting window (default 7 days)",
}

var epochCmd = &cli.Command{
	Name:  "epoch",
	Usage: "inspect and drive the governance epoch",
	Flags: scoringFlags,
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "print the current epoch",
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.CurrentEpoch(cctx.Context)
			}),
		},
		{
			Name:  "start-voting",
			Flags: []cli.Flag{durationFlag},
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.StartVoting(cctx.Context, actor, cctx.Duration("duration"))
			}),
		},
		{
			Name: "end-voting",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "end even if fewer than the minimum ballots were cast"},
			},
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.EndVoting(cctx.Context, actor, cctx.Bool("force"))
			}),
		},
		{
			Name: "approve",
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.ApproveResults(cctx.Context, actor)
			}),
		},
		{
			Name: "reject",
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.RejectResults(cctx.Context, actor)
			}),
		},
		{
			Name:  "force",
			Usage: "close the current epoch and open a new one with the ballots applied",
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.ForceTransition(cctx.Context, actor)
			}),
		},
		{
			Name:      "schedule",
			Usage:     "schedule the next vote to open automatically",
			ArgsUsage: "<start time>",
			Flags:     []cli.Flag{durationFlag},
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				start, err := parseStartTime(cctx.Args().First())
				if err != nil {
					return nil, err
				}
				return c.mgr.ScheduleVote(cctx.Context, actor, start, cctx.Duration("duration"))
			}),
		},
		{
			Name: "cancel-schedule",
			Action: epochAction(func(cctx *cli.Context, c *components, actor string) (*models.GovernanceEpoch, error) {
				return c.mgr.CancelScheduledVote(cctx.Context, actor)
			}),
		},
	},
}

var explainCmd = &cli.Command{
	Name:      "explain",
	Usage:     "print the score decomposition of one post",
	ArgsUsage: "<at-uri>",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{Name: "epoch", Usage: "epoch id (default current)"},
	}, scoringFlags...),
	Action: func(cctx *cli.Context) error {
		uri := cctx.Args().First()
		if uri == "" {
			return fmt.Errorf("need a post URI")
		}
		logger := cliutil.ConfigLogger(cctx, os.Stderr)
		c, err := setupComponents(cctx, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		exp, err := c.transparency.Explain(cctx.Context, uri, cctx.Uint64("epoch"))
		if err != nil {
			return err
		}
		fmt.Println(explainTree(exp).String())
		return nil
	},
}

func explainTree(exp *scoring.Explanation) treeprint.Tree {
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s  total=%.4f", exp.PostURI, exp.Total))
	tree.AddMetaNode("epoch", exp.EpochID)
	tree.AddMetaNode("run", exp.RunID)
	tree.AddMetaNode("scored", exp.ScoredAt.Format(time.RFC3339))
	if exp.Rank > 0 {
		tree.AddMetaNode("rank", fmt.Sprintf("%d of %d (engagement-only rank %d)", exp.Rank, exp.RunSize, exp.EngagementRank))
	}
	comps := tree.AddBranch("components")
	for _, comp := range exp.Components {
		comps.AddMetaNode(comp.Name, fmt.Sprintf("raw=%.4f weight=%.3f weighted=%.4f", comp.Raw, comp.Weight, comp.Weighted))
	}
	return tree
}

var seedTopics = []string{"golang", "rust", "gardening", "climbing", "jazz", "astronomy", "crypto", "cooking"}

var seedCorpusCmd = &cli.Command{
	Name:  "seed-corpus",
	Usage: "write fake posts and engagements for local development",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "posts", Value: 500},
		&cli.IntFlag{Name: "authors", Value: 40},
		&cli.IntFlag{Name: "engagers", Value: 200},
		&cli.Int64Flag{Name: "seed", Value: 1},
	},
	Action: func(cctx *cli.Context) error {
		logger := cliutil.ConfigLogger(cctx, os.Stderr)
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cliutil.DatabaseOptions{Logger: logger})
		if err != nil {
			return err
		}
		if err := models.MigrateDatabase(db); err != nil {
			return err
		}

		gofakeit.Seed(cctx.Int64("seed"))
		fakeDID := func() string { return "did:plc:" + gofakeit.LetterN(24) }
		authors := make([]string, cctx.Int("authors"))
		for i := range authors {
			authors[i] = fakeDID()
		}
		engagers := make([]string, cctx.Int("engagers"))
		for i := range engagers {
			engagers[i] = fakeDID()
		}
		if len(authors) == 0 || len(engagers) == 0 {
			return fmt.Errorf("need at least one author and one engager")
		}

		now := time.Now().UTC()
		posts := make([]models.Post, cctx.Int("posts"))
		var engagements []models.Engagement
		for i := range posts {
			author := authors[gofakeit.Number(0, len(authors)-1)]
			created := gofakeit.DateRange(now.Add(-72*time.Hour), now)
			text := gofakeit.Sentence(gofakeit.Number(4, 20))
			if gofakeit.Number(0, 2) == 0 {
				text += " #" + gofakeit.RandomString(seedTopics)
			}
			p := models.Post{
				URI:       fmt.Sprintf("at://%s/app.bsky.feed.post/%s", author, gofakeit.LetterN(13)),
				AuthorDID: author,
				Text:      text,
				HasMedia:  gofakeit.Number(0, 9) == 0,
				CreatedAt: created,
				IndexedAt: created.Add(time.Duration(gofakeit.Number(1, 30)) * time.Second),
				Deleted:   gofakeit.Number(0, 49) == 0,
			}
			for j := gofakeit.Number(0, 12); j > 0; j-- {
				kind := gofakeit.RandomString([]string{"like", "like", "like", "repost", "reply"})
				switch models.EngagementKind(kind) {
				case models.EngagementLike:
					p.LikeCount++
				case models.EngagementRepost:
					p.RepostCount++
				case models.EngagementReply:
					p.ReplyCount++
				}
				engagements = append(engagements, models.Engagement{
					PostURI:   p.URI,
					ActorDID:  engagers[gofakeit.Number(0, len(engagers)-1)],
					Kind:      models.EngagementKind(kind),
					CreatedAt: created.Add(time.Duration(gofakeit.Number(1, 3600)) * time.Second),
				})
			}
			posts[i] = p
		}

		if err := db.WithContext(cctx.Context).CreateInBatches(posts, 200).Error; err != nil {
			return fmt.Errorf("writing posts: %w", err)
		}
		if len(engagements) > 0 {
			if err := db.WithContext(cctx.Context).CreateInBatches(engagements, 200).Error; err != nil {
				return fmt.Errorf("writing engagements: %w", err)
			}
		}
		logger.Info("seeded corpus", "posts", len(posts), "engagements", len(engagements))
		return nil
	},
}
