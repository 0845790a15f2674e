package main

import (
	"fmt"
	"log"

	"outpost/internal/config"
	"outpost/internal/database"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.IsProduction() {
		log.Fatal("refusing to nuke a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Nuking database...")
	if err := database.DropAll(db); err != nil {
		log.Fatalf("failed to drop tables: %v", err)
	}
	fmt.Println("Database nuked.")
}
