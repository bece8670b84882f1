package main

import (
	"context"
	"fmt"
	"os"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/db"
	"wotnode-gateway/internal/logging"
	"wotnode-gateway/internal/migrate"
)

var version = "dev"

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  status   print the last applied migration version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, "wotnode-migrate")

	conn, err := db.Open(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	ctx := context.Background()
	switch os.Args[1] {
	case "migrate":
		n, err := migrate.Run(ctx, conn, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d migration(s) applied\n", n)
	case "status":
		v, err := migrate.CurrentVersion(ctx, conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		if v == "" {
			fmt.Println("no migrations applied")
			return
		}
		fmt.Printf("schema version %s\n", v)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
