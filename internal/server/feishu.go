package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"
	"github.com/anthropics/feishu-digest/internal/biz/usecase"
	"github.com/anthropics/feishu-digest/internal/conf"
	"github.com/anthropics/feishu-digest/internal/infra/feishu"
	"github.com/anthropics/feishu-digest/internal/service"
)

// supportedCommands maps command to its help line
var supportedCommands = []struct{ cmd, desc string }{
	{"/ping", "Health check (bot replies with 'pong')"},
	{"/digest", "Generate a digest now from the last 24 hours of messages"},
	{"/status", "Show bot status and configuration summary"},
	{"/help", "Show this help message"},
}

// Server runs the two platform actors. The collector streams channel
// messages into the store; the publisher posts digests and answers
// commands. The two share nothing but the store, so a failure on one side
// never takes down the other.
type Server struct {
	collector *feishu.Client
	publisher *feishu.Client
	store     repo.MessageStore
	digestUC  *usecase.DigestUsecase
	scheduler *service.DigestScheduler
	cfg       conf.DigestConfig
	model     string

	channels map[string]bool
	allowed  map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the server around its two authenticated clients
func NewServer(
	collector *feishu.Client,
	publisher *feishu.Client,
	store repo.MessageStore,
	digestUC *usecase.DigestUsecase,
	scheduler *service.DigestScheduler,
	cfg conf.DigestConfig,
	model string,
) *Server {
	channels := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch] = true
	}
	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[strings.ToLower(u)] = true
	}

	s := &Server{
		collector: collector,
		publisher: publisher,
		store:     store,
		digestUC:  digestUC,
		scheduler: scheduler,
		cfg:       cfg,
		model:     model,
		channels:  channels,
		allowed:   allowed,
	}

	collector.OnMessage(s.ingest)
	publisher.OnMessage(s.handleCommand)
	return s
}

// Start launches the scheduler and both client loops. It returns
// immediately; Stop shuts everything down.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scheduler.Start(ctx)

	// The two actors run independently: a dead collector leaves the
	// scheduler and publisher serving already-ingested data.
	s.wg.Add(2)
	go s.runClient(ctx, "collector", s.collector)
	go s.runClient(ctx, "publisher", s.publisher)
}

// Stop shuts the server down and waits for the client loops
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.wg.Wait()
}

func (s *Server) runClient(ctx context.Context, role string, client *feishu.Client) {
	defer s.wg.Done()

	err := client.Run(ctx)
	if ctx.Err() != nil {
		return
	}

	var pe *domain.PlatformError
	if errors.As(err, &pe) && pe.Auth {
		// Credentials are wrong; retrying cannot fix this side
		fmt.Printf("[Server] FATAL: %s halted, credentials rejected: %v\n", role, err)
		return
	}
	fmt.Printf("[Server] %s loop ended: %v\n", role, err)
}

// ingest normalizes and stores one collected channel message.
// Re-delivered messages dedup inside the store, so reconnects never create
// duplicate rows.
func (s *Server) ingest(msg *feishu.Message) {
	if !s.channels[msg.ChatID] {
		return // not one of our source channels
	}

	text := usecase.SanitizeText(msg.Text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inserted, err := s.store.Append(ctx, &domain.Message{
		Channel:  msg.ChatID,
		MsgID:    msg.MsgID,
		Sender:   senderLabel(msg),
		Text:     text,
		PostedAt: msg.CreateTime,
	})
	if err != nil {
		fmt.Printf("[Server] Failed to store message %s/%s: %v\n", msg.ChatID, msg.MsgID, err)
		return
	}
	if inserted {
		fmt.Printf("[Server] Stored message %s from %s\n", msg.MsgID, msg.ChatID)
	}
}

func senderLabel(msg *feishu.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

// handleCommand answers command-style messages arriving at the publisher bot
func (s *Server) handleCommand(msg *feishu.Message) {
	cmd := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(cmd, "/") {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !s.isAllowed(msg) {
		fmt.Printf("[Server] %s denied for user %s\n", cmd, msg.SenderID)
		s.reply(ctx, msg, "You are not allowed to use this command.")
		return
	}

	switch cmd {
	case "/ping":
		s.reply(ctx, msg, "pong")
	case "/help":
		s.reply(ctx, msg, helpText())
	case "/digest":
		s.handleDigest(msg)
	case "/status":
		s.handleStatus(ctx, msg)
	}
}

// isAllowed checks the caller against the configured allow-list.
// An empty allow-list means no restriction.
func (s *Server) isAllowed(msg *feishu.Message) bool {
	if len(s.allowed) == 0 {
		return true
	}
	if s.allowed[strings.ToLower(msg.SenderID)] {
		return true
	}
	return msg.SenderName != "" && s.allowed[strings.ToLower(msg.SenderName)]
}

func (s *Server) reply(ctx context.Context, msg *feishu.Message, text string) {
	if err := s.publisher.Reply(ctx, msg.MsgID, text); err != nil {
		fmt.Printf("[Server] Failed to reply to %s: %v\n", msg.MsgID, err)
	}
}

func helpText() string {
	lines := []string{"Supported commands", ""}
	for _, c := range supportedCommands {
		lines = append(lines, fmt.Sprintf("%s — %s", c.cmd, c.desc))
	}
	return strings.Join(lines, "\n")
}

// handleDigest runs an on-demand digest cycle. A trigger arriving while a
// run is active is rejected, which the caller sees directly.
func (s *Server) handleDigest(msg *feishu.Message) {
	fmt.Printf("[Server] /digest requested by %s\n", msg.SenderID)

	run, err := s.scheduler.TriggerNow()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if errors.Is(err, domain.ErrRunInProgress) {
		s.reply(ctx, msg, "A digest run is already in progress, try again later.")
		return
	}

	switch run.Outcome {
	case domain.OutcomeSuccess:
		s.reply(ctx, msg, fmt.Sprintf("Digest posted to the target channel (%d of %d messages included).",
			run.Included, run.Candidates))
	case domain.OutcomeEmpty:
		s.reply(ctx, msg, "No messages available for the last 24 hours.")
	default:
		s.reply(ctx, msg, "Digest failed: "+run.Reason)
	}
}

// handleStatus reports ingestion and digest state
func (s *Server) handleStatus(ctx context.Context, msg *feishu.Message) {
	since := time.Now().Add(-24 * time.Hour)

	total, err := s.store.CountSince(ctx, since)
	if err != nil {
		s.reply(ctx, msg, "Status unavailable: "+err.Error())
		return
	}

	start, end, label := s.scheduler.Window(domain.TriggerOnDemand, time.Now())
	relevant, promptChars, err := s.digestUC.PromptSize(ctx, start, end, label)
	if err != nil {
		fmt.Printf("[Server] Failed to compute prompt size: %v\n", err)
	}

	var sb strings.Builder
	sb.WriteString("Digest bot status\n\n")
	fmt.Fprintf(&sb, "Stored messages (last 24h): %d\n", total)
	fmt.Fprintf(&sb, "Messages in next prompt: %d (%d chars)\n", relevant, promptChars)
	fmt.Fprintf(&sb, "Scheduler state: %s\n", s.scheduler.State())
	fmt.Fprintf(&sb, "Planned digest time: %02d:00 (%s)\n", s.cfg.Hour, s.cfg.Timezone)
	fmt.Fprintf(&sb, "LLM model: %s\n", s.model)
	fmt.Fprintf(&sb, "Target channel: %s\n", s.cfg.TargetChat)
	fmt.Fprintf(&sb, "Source channels: %s\n", strings.Join(s.cfg.Channels, ", "))

	if last, err := s.store.LastRun(ctx); err == nil && last != nil {
		fmt.Fprintf(&sb, "\nLast run: %s (%s) at %s",
			last.Outcome, last.Trigger, last.StartedAt.Format(time.RFC3339))
		if last.Reason != "" {
			fmt.Fprintf(&sb, " — %s", last.Reason)
		}
	}

	s.reply(ctx, msg, sb.String())
}
