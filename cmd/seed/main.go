// Command main runs the development seeder for an outpost node.
package main

import (
	"context"
	"flag"
	"log"

	"outpost/internal/config"
	"outpost/internal/database"
	"outpost/internal/seed"
)

func main() {
	host := flag.String("host", "localhost", "Site host to seed")
	numUsers := flag.Int("users", 20, "Number of local users to create")
	numRemote := flag.Int("remote", 30, "Number of remote actors to store")
	numPosts := flag.Int("posts", 200, "Number of posts to create")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sum, err := seed.NewSeeder(db).Run(context.Background(), seed.Options{
		Host:        *host,
		NumUsers:    *numUsers,
		NumRemote:   *numRemote,
		NumPosts:    *numPosts,
		ShouldClean: *shouldClean,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! Webhook secret for %s: %s", sum.Site.Host, sum.Site.WebhookSecret)
	log.Println("🔑 Mint an API token with: go run ./cmd/admin/main.go token <user_id>")
}
