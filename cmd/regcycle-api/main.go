package main

import (
	"context"
	"os"

	"github.com/dukex/regcycle/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	// a missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env", "error", err)
	}

	cmd := &cli.Command{
		Name:                  "regcycle-api",
		Usage:                 "Coordinate regulatory reporting cycles",
		EnableShellCompletion: true,
		Flags:                 serveFlags(),
		Action:                serve,
		Commands: []*cli.Command{
			WatchCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
