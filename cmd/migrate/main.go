// Command migrate runs schema operations for the node.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"outpost/internal/config"
	"outpost/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect migrates outside production; force the explicit path here.
	cfg.Env = "production"
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Println("automigrations applied")
	case "status":
		status, err := database.Status(db)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		missing := 0
		for _, s := range status {
			state := "ok"
			if !s.Exists {
				state = "missing"
				missing++
			}
			log.Printf("%-20s %s", s.Table, state)
		}
		log.Printf("tables=%d missing=%d", len(status), missing)
	default:
		return usage()
	}

	return nil
}
