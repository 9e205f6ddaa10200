// Command token registers a user in the configured store and prints a bearer
// token for it. It stands in for the marketplace identity provider during
// development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/defrilex/messaging/internal/api/middleware"
	"github.com/defrilex/messaging/internal/config"
	"github.com/defrilex/messaging/internal/models"
	"github.com/defrilex/messaging/internal/store"
)

func main() {
	userID := flag.String("user", "", "User ID")
	firstName := flag.String("first", "", "First name")
	lastName := flag.String("last", "", "Last name")
	avatar := flag.String("avatar", "", "Avatar URL (optional)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	noUpsert := flag.Bool("no-upsert", false, "Only sign a token, do not touch the store")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <id> [-first <name>] [-last <name>] [-avatar <url>] [-ttl 24h] [-no-upsert]")
		os.Exit(1)
	}

	cfg := config.Load()

	if !*noUpsert {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if cfg.DatabaseURL != "" {
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
				os.Exit(1)
			}
		}

		ds, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer ds.Close()

		user := &models.User{ID: *userID, FirstName: *firstName, LastName: *lastName}
		if *avatar != "" {
			user.Avatar = avatar
		}
		if err := ds.UpsertUser(ctx, user); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save user: %v\n", err)
			os.Exit(1)
		}
	}

	token, err := middleware.SignToken(cfg.JWTSecret, cfg.JWTIssuer, *userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
