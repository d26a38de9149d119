package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthropics/feishu-digest/internal/conf"
	"github.com/anthropics/feishu-digest/internal/data"
)

// Retention maintenance: deletes stored messages older than the horizon.
// Kept out of the digest hot path on purpose.
func main() {
	days := flag.Int("days", 30, "delete messages older than this many days")
	flag.Parse()

	if *days <= 0 {
		log.Fatalf("days must be positive, got %d", *days)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := data.NewMessageStore(cfg.Digest.DBPath)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -*days)
	purged, err := store.PurgeBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}

	fmt.Printf("Purged %d messages older than %s\n", purged, cutoff.Format("2006-01-02"))
}
