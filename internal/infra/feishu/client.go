package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

// Message represents a received Feishu message, normalized to plain text
type Message struct {
	ChatID     string
	MsgID      string
	ChatType   string // p2p (private), group
	SenderID   string
	SenderName string
	Text       string
	CreateTime time.Time
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is one authenticated Feishu identity. The digest pipeline runs two
// of them: a collector subscribed to the source channels and a publisher
// bot that posts digests and answers commands.
type Client struct {
	role      string // label for log lines: collector, publisher
	appID     string
	appSecret string
	larkCli   *lark.Client
	onMessage MessageHandler

	// sender display names by open_id, filled from the chat member list
	nameMu       sync.Mutex
	names        map[string]string
	fetchMembers func(ctx context.Context, chatID string) (map[string]string, error)
}

// NewClient creates a new Feishu client for one app identity
func NewClient(role, appID, appSecret string) *Client {
	c := &Client{
		role:      role,
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		names:     make(map[string]string),
	}
	c.fetchMembers = c.fetchChatMembers
	return c
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Authenticate verifies the app credentials by requesting a tenant access
// token. A rejected credential is a *domain.PlatformError with Auth set,
// which callers treat as fatal rather than retrying.
func (c *Client) Authenticate(ctx context.Context) error {
	body := fmt.Sprintf(`{"app_id":%q,"app_secret":%q}`, c.appID, c.appSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal",
		strings.NewReader(body))
	if err != nil {
		return &domain.PlatformError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &domain.PlatformError{Err: fmt.Errorf("get token: %w", err)}
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &domain.PlatformError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if result.Code != 0 {
		return &domain.PlatformError{Auth: true, Err: fmt.Errorf("token rejected (code=%d): %s", result.Code, result.Msg)}
	}

	fmt.Printf("[Feishu:%s] Authenticated app %s\n", c.role, c.appID)
	return nil
}

// Run connects the event stream and keeps it alive until ctx is cancelled,
// reconnecting with capped exponential backoff on connectivity loss.
// Authentication failures abort the loop with a fatal diagnostic.
func (c *Client) Run(ctx context.Context) error {
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			// Return quickly so the SDK can ACK; Feishu retries on timeout
			go c.handleMessage(event)
			return nil
		})

	backoff := time.Second
	for {
		if err := c.Authenticate(ctx); err != nil {
			var pe *domain.PlatformError
			if errors.As(err, &pe) && pe.Auth {
				return err
			}
			fmt.Printf("[Feishu:%s] Connectivity check failed: %v\n", c.role, err)
		} else {
			wsCli := larkws.NewClient(c.appID, c.appSecret,
				larkws.WithEventHandler(eventHandler),
				larkws.WithLogLevel(larkcore.LogLevelWarn),
			)

			fmt.Printf("[Feishu:%s] Starting WebSocket connection...\n", c.role)
			err := wsCli.Start(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("[Feishu:%s] Connection lost: %v\n", c.role, err)
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

// handleMessage normalizes an incoming event and dispatches it
func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	rawMsg := event.Event.Message
	if rawMsg == nil {
		return
	}

	// Ignore the app's own messages to prevent loops
	if event.Event.Sender != nil && event.Event.Sender.SenderType != nil &&
		*event.Event.Sender.SenderType == "app" {
		return
	}

	msg := &Message{
		ChatID: *rawMsg.ChatId,
		MsgID:  *rawMsg.MessageId,
	}

	if rawMsg.ChatType != nil {
		msg.ChatType = *rawMsg.ChatType
	}

	// Create time arrives as a milliseconds Unix timestamp
	if rawMsg.CreateTime != nil {
		if ts, err := strconv.ParseInt(*rawMsg.CreateTime, 10, 64); err == nil {
			msg.CreateTime = time.UnixMilli(ts).UTC()
		}
	}
	if msg.CreateTime.IsZero() {
		msg.CreateTime = time.Now().UTC()
	}

	if event.Event.Sender != nil && event.Event.Sender.SenderId != nil &&
		event.Event.Sender.SenderId.OpenId != nil {
		msg.SenderID = *event.Event.Sender.SenderId.OpenId
		msg.SenderName = c.resolveSenderName(context.Background(), msg.ChatID, msg.SenderID)
	}

	switch msgType := derefStr(rawMsg.MessageType); msgType {
	case "text":
		msg.Text = parseTextContent(*rawMsg.Content)
	case "post":
		msg.Text = parsePostContent(*rawMsg.Content)
	default:
		// Images, stickers and the rest carry nothing to summarize
		return
	}

	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// resolveSenderName maps a sender open_id to its display name via the chat
// member list, cached across messages. Resolution failures degrade to an
// empty name; callers then label the sender by open_id.
func (c *Client) resolveSenderName(ctx context.Context, chatID, openID string) string {
	if openID == "" {
		return ""
	}

	c.nameMu.Lock()
	if name, ok := c.names[openID]; ok {
		c.nameMu.Unlock()
		return name
	}
	c.nameMu.Unlock()

	members, err := c.fetchMembers(ctx, chatID)
	if err != nil {
		fmt.Printf("[Feishu:%s] Failed to resolve member names for %s: %v\n", c.role, chatID, err)
		return ""
	}

	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	for id, name := range members {
		c.names[id] = name
	}
	name := c.names[openID]
	// Remember misses too, so a nameless sender costs one lookup, not one
	// per message
	c.names[openID] = name
	return name
}

// fetchChatMembers pages through the chat member list and returns
// open_id -> display name
func (c *Client) fetchChatMembers(ctx context.Context, chatID string) (map[string]string, error) {
	members := make(map[string]string)
	var pageToken string

	for {
		builder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error (code=%d): %s", resp.Code, resp.Msg)
		}

		for _, item := range resp.Data.Items {
			if item.MemberId != nil && item.Name != nil {
				members[*item.MemberId] = *item.Name
			}
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	return members, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseTextContent extracts text from a text message payload
func parseTextContent(content string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return parsed.Text
}

// parsePostContent flattens a rich text (post) payload to plain lines
func parsePostContent(content string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag  string `json:"tag"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var parts []string
	if parsed.Title != "" {
		parts = append(parts, parsed.Title)
	}
	for _, line := range parsed.Content {
		var lineParts []string
		for _, elem := range line {
			if elem.Tag == "text" && elem.Text != "" {
				lineParts = append(lineParts, elem.Text)
			}
		}
		if len(lineParts) > 0 {
			parts = append(parts, strings.Join(lineParts, ""))
		}
	}
	return strings.Join(parts, "\n")
}

// SendText sends a single text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content := map[string]string{"text": text}
	contentJSON, _ := json.Marshal(content)

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return &domain.PlatformError{Err: fmt.Errorf("send message: %w", err)}
	}
	if !resp.Success() {
		return &domain.PlatformError{Err: fmt.Errorf("send message error (code=%d): %s", resp.Code, resp.Msg)}
	}

	return nil
}

// Reply replies to a specific message
func (c *Client) Reply(ctx context.Context, msgID, text string) error {
	content := map[string]string{"text": text}
	contentJSON, _ := json.Marshal(content)

	req := larkim.NewReplyMessageReqBuilder().
		MessageId(msgID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Reply(ctx, req)
	if err != nil {
		return &domain.PlatformError{Err: fmt.Errorf("reply: %w", err)}
	}
	if !resp.Success() {
		return &domain.PlatformError{Err: fmt.Errorf("reply error (code=%d): %s", resp.Code, resp.Msg)}
	}
	return nil
}
