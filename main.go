package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/anthropics/feishu-digest/internal/biz/usecase"
	"github.com/anthropics/feishu-digest/internal/conf"
	"github.com/anthropics/feishu-digest/internal/data"
	"github.com/anthropics/feishu-digest/internal/infra/feishu"
	"github.com/anthropics/feishu-digest/internal/server"
	"github.com/anthropics/feishu-digest/internal/service"
)

func main() {
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

	collector := feishu.NewClient("collector", cfg.Collector.AppID, cfg.Collector.AppSecret)
	publisher := feishu.NewClient("publisher", cfg.Publisher.AppID, cfg.Publisher.AppSecret)
	summarizer := data.NewSummarizerRepo(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)

	retrieval := usecase.NewRetrievalUsecase(store, usecase.RetrievalConfig{
		Keywords:    cfg.Digest.Keywords,
		MaxMessages: cfg.Digest.MaxMessages,
		MaxChars:    cfg.Digest.MaxChars,
	})

	prompts, err := usecase.NewPromptBuilderUsecase(cfg.Prompts, cfg.Digest.Timezone)
	if err != nil {
		log.Fatalf("Invalid prompt template: %v", err)
	}

	digestUC := usecase.NewDigestUsecase(
		retrieval, prompts, summarizer, publisher, store,
		cfg.Digest.TargetChat, cfg.Digest.Keywords,
	)

	scheduler := service.NewDigestScheduler(
		digestUC, cfg.Digest.Hour, cfg.Digest.Location(), cfg.Digest.RunTimeout,
	)

	srv := server.NewServer(collector, publisher, store, digestUC, scheduler, cfg.Digest, cfg.OpenAI.Model)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Starting Feishu digest bot...")
	srv.Start(ctx)

	<-sigCh
	fmt.Println("\nShutting down...")
	cancel()
	srv.Stop()
}
