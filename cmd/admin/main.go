// Package main provides operator utilities for an outpost node.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"outpost/internal/config"
	"outpost/internal/database"
	"outpost/internal/middleware"
	"outpost/internal/models"

	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	switch os.Args[1] {
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		admin := fs.Bool("admin", false, "Grant the admin role")
		ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			printUsage()
			os.Exit(1)
		}
		issueToken(db, cfg, fs.Arg(0), *admin, *ttl)

	case "list-users":
		host := ""
		if len(os.Args) > 2 {
			host = os.Args[2]
		}
		listUsers(db, host)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go token [-admin] [-ttl 24h] <user_id>  - Mint an API token")
	fmt.Println("  go run ./cmd/admin/main.go list-users [host]                    - List local users")
}

func issueToken(db *gorm.DB, cfg *config.Config, rawID string, admin bool, ttl time.Duration) {
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil || id == 0 {
		fmt.Printf("Invalid user ID %q\n", rawID)
		os.Exit(1)
	}

	var user models.User
	if err := db.Preload("Account").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Printf("User with ID %d not found\n", id)
		} else {
			log.Fatalf("Database error: %v", err)
		}
		os.Exit(1)
	}

	role := middleware.RoleUser
	if admin {
		role = middleware.RoleAdmin
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, user.ID, role, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	name := ""
	if user.Account != nil {
		name = user.Account.Username
	}
	fmt.Fprintf(os.Stderr, "✅ Token for %s (ID: %d, role: %s, expires in %s)\n", name, user.ID, role, ttl)
	fmt.Println(token)
}

func listUsers(db *gorm.DB, host string) {
	q := db.Preload("Account").Preload("Site").Order("id")
	if host != "" {
		q = q.Joins("JOIN sites ON sites.id = users.site_id").Where("sites.host = ?", host)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		log.Fatalf("Failed to fetch users: %v", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return
	}

	fmt.Println("\n📋 Local Users:")
	fmt.Println("─────────────────────────────────────")
	for _, u := range users {
		handle, site := "?", "?"
		if u.Account != nil {
			handle = u.Account.Username
		}
		if u.Site != nil {
			site = u.Site.Host
		}
		fmt.Printf("ID: %d | Handle: @%s@%s\n", u.ID, handle, site)
	}
	fmt.Println("─────────────────────────────────────")
}
