package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "agora",
		Usage:   "community-governed feed generator",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"AGORA_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (postgres or sqlite)",
			Value:   "sqlite://data/agora/agora.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   20,
			EnvVars: []string{"AGORA_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; process memory is used for shared state when unset",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Usage:   "key prefix for everything written to redis",
			Value:   "agora",
			EnvVars: []string{"AGORA_REDIS_PREFIX"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		scoreOnceCmd,
		epochCmd,
		explainCmd,
		seedCorpusCmd,
	}

	return app.Run(args)
}

// cliActor is the audit actor for operator commands run from a shell.
func cliActor() string {
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("cli:%s", name)
}
