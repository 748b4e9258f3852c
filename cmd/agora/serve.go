package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/agora/outbox"
	"github.com/bluesky-social/agora/util/cliutil"

	"github.com/urfave/cli/v2"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the feed generator HTTP API and background workers",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3200",
			EnvVars: []string{"AGORA_BIND"},
		},
		&cli.StringFlag{
			Name:     "feed-uri",
			Usage:    "at:// URI of the feed generator record served by this instance",
			Required: true,
			EnvVars:  []string{"AGORA_FEED_URI"},
		},
		&cli.StringFlag{
			Name:    "service-did",
			Usage:   "DID of this feed generator service (eg, did:web:feed.example.com)",
			EnvVars: []string{"AGORA_SERVICE_DID"},
		},
		&cli.StringFlag{
			Name:    "hostname",
			Usage:   "public hostname of this service",
			EnvVars: []string{"AGORA_HOSTNAME"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HMAC secret for verifying voter and admin bearer tokens",
			EnvVars: []string{"AGORA_JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "jwt-audience",
			Usage:   "required audience claim on bearer tokens, if set",
			EnvVars: []string{"AGORA_JWT_AUDIENCE"},
		},
		&cli.DurationFlag{
			Name:    "snapshot-ttl",
			Usage:   "lifetime of feed pagination snapshots",
			Value:   10 * time.Minute,
			EnvVars: []string{"AGORA_SNAPSHOT_TTL"},
		},
		&cli.DurationFlag{
			Name:    "scheduler-interval",
			Value:   5 * time.Minute,
			EnvVars: []string{"AGORA_SCHEDULER_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "announce-webhook-url",
			Usage:   "governance announcements are POSTed here; they are only logged when unset",
			EnvVars: []string{"AGORA_ANNOUNCE_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "announce-webhook-secret",
			EnvVars: []string{"AGORA_ANNOUNCE_WEBHOOK_SECRET"},
		},
		&cli.Float64Flag{
			Name:    "voter-rate-limit",
			Usage:   "requests per second per voter on write endpoints",
			Value:   2,
			EnvVars: []string{"AGORA_VOTER_RATE_LIMIT"},
		},
		&cli.Float64Flag{
			Name:    "admin-rate-limit",
			Usage:   "requests per second per admin",
			Value:   0.5,
			EnvVars: []string{"AGORA_ADMIN_RATE_LIMIT"},
		},
	}, scoringFlags...),
	Action: runServe,
}

func runServe(cctx *cli.Context) error {
	logger := cliutil.ConfigLogger(cctx, os.Stdout)

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	c, err := setupComponents(cctx, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if cctx.String("jwt-secret") == "" {
		logger.Warn("no jwt secret configured, voting and admin endpoints will reject every request")
	}

	var announcer outbox.Announcer
	if u := cctx.String("announce-webhook-url"); u != "" {
		announcer = outbox.NewWebhookAnnouncer(u, outbox.WebhookOptions{
			Secret:  cctx.String("announce-webhook-secret"),
			Retries: 2,
			Logger:  logger.With("system", "outbox"),
		})
	} else {
		announcer = outbox.NewLogAnnouncer(logger.With("system", "outbox"))
	}
	ob, err := outbox.NewWorker(c.db, announcer, outbox.WorkerOptions{Logger: logger.With("system", "outbox")})
	if err != nil {
		return err
	}

	config := DefaultServerConfig()
	config.Bind = cctx.String("bind")
	config.ServiceDID = cctx.String("service-did")
	config.Hostname = cctx.String("hostname")
	config.SchedulerInterval = cctx.Duration("scheduler-interval")
	config.VoterRateLimit = cctx.Float64("voter-rate-limit")
	config.AdminRateLimit = cctx.Float64("admin-rate-limit")

	srv := NewServer(
		c,
		c.newFeedService(cctx.String("feed-uri"), cctx.Duration("snapshot-ttl")),
		NewAuth(cctx.String("jwt-secret"), cctx.String("jwt-audience")),
		ob,
		config,
	)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("agora service failed: %w", err)
	}
	logger.Info("graceful shutdown complete")
	return nil
}
