package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"
	"github.com/anthropics/feishu-digest/internal/biz/usecase"
	"github.com/anthropics/feishu-digest/internal/conf"
	"github.com/anthropics/feishu-digest/internal/data"
	"github.com/anthropics/feishu-digest/internal/infra/feishu"
)

// Runs a single digest cycle over the last N hours and exits.
// Useful for testing prompts and credentials without waiting for the
// scheduled hour.
func main() {
	hours := flag.Int("hours", 24, "window size in hours")
	dryRun := flag.Bool("dry-run", false, "print the digest instead of publishing it")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := data.NewMessageStore(cfg.Digest.DBPath)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer store.Close()

	retrieval := usecase.NewRetrievalUsecase(store, usecase.RetrievalConfig{
		Keywords:    cfg.Digest.Keywords,
		MaxMessages: cfg.Digest.MaxMessages,
		MaxChars:    cfg.Digest.MaxChars,
	})

	prompts, err := usecase.NewPromptBuilderUsecase(cfg.Prompts, cfg.Digest.Timezone)
	if err != nil {
		log.Fatalf("Invalid prompt template: %v", err)
	}

	summarizer := data.NewSummarizerRepo(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)

	var publisher repo.Publisher = repo.PublisherFunc(func(ctx context.Context, chatID, text string) error {
		fmt.Printf("--- digest for %s ---\n%s\n", chatID, text)
		return nil
	})
	if !*dryRun {
		publisher = feishu.NewClient("publisher", cfg.Publisher.AppID, cfg.Publisher.AppSecret)
	}

	digestUC := usecase.NewDigestUsecase(
		retrieval, prompts, summarizer, publisher, store,
		cfg.Digest.TargetChat, cfg.Digest.Keywords,
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Digest.RunTimeout)
	defer cancel()

	now := time.Now().In(cfg.Digest.Location())
	start := now.Add(-time.Duration(*hours) * time.Hour)
	label := now.Format("2006-01-02")

	run, err := digestUC.Run(ctx, domain.TriggerOnDemand, start, now, label)
	if err != nil {
		log.Fatalf("Failed to record run: %v", err)
	}

	fmt.Printf("Outcome: %s (%d of %d messages included)\n", run.Outcome, run.Included, run.Candidates)
	if run.Reason != "" {
		fmt.Println("Reason:", run.Reason)
	}
}
