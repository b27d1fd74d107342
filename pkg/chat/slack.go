package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	goslack "github.com/slack-go/slack"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// cursorKey is the single key in the chat cursor namespace.
const cursorKey = "last_update_ts"

// SlackTransport is the Slack-backed Transport.
type SlackTransport struct {
	api       *goslack.Client
	channelID string
	cfg       *config.ChatConfig
	store     *store.Store
	logger    *slog.Logger
}

var _ Transport = (*SlackTransport)(nil)

// NewSlackTransport creates the transport from the configured environment
// credentials. The cursor store makes command delivery survive restarts.
func NewSlackTransport(cfg *config.ChatConfig, st *store.Store) (*SlackTransport, error) {
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("chat token is required (set %s)", cfg.TokenEnv)
	}
	channelID := os.Getenv(cfg.ChannelEnv)
	if channelID == "" {
		return nil, fmt.Errorf("chat channel is required (set %s)", cfg.ChannelEnv)
	}
	return &SlackTransport{
		api:       goslack.New(token),
		channelID: channelID,
		cfg:       cfg,
		store:     st,
		logger:    slog.Default().With("component", "chat"),
	}, nil
}

// NewSlackTransportWithAPIURL targets a custom API URL. Useful for testing
// with a mock server.
func NewSlackTransportWithAPIURL(cfg *config.ChatConfig, st *store.Store, token, channelID, apiURL string) *SlackTransport {
	return &SlackTransport{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		cfg:       cfg,
		store:     st,
		logger:    slog.Default().With("component", "chat"),
	}
}

// Send implements Transport.
func (t *SlackTransport) Send(ctx context.Context, text string) error {
	for _, chunk := range chunkText(text, t.cfg.MaxMessageLen) {
		_, _, err := t.api.PostMessageContext(ctx, t.channelID,
			goslack.MsgOptionText(chunk, false))
		if err != nil {
			return fmt.Errorf("chat.postMessage failed: %w", err)
		}
	}
	return nil
}

// PollUpdates implements Transport. Bot messages are filtered out so the
// orchestrator never reacts to its own output.
func (t *SlackTransport) PollUpdates(ctx context.Context) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.PollTimeout)
	defer cancel()

	var cursor string
	if err := t.store.Get(ctx, store.NSChatCursor, cursorKey, &cursor); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("load chat cursor: %w", err)
	}

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: t.channelID,
		Oldest:    cursor,
		Limit:     100,
	}
	history, err := t.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("conversations.history failed: %w", err)
	}

	var out []Message
	for _, msg := range history.Messages {
		if msg.BotID != "" || msg.SubType != "" {
			continue
		}
		if msg.Timestamp == cursor {
			continue // Oldest is inclusive
		}
		out = append(out, Message{
			Timestamp: msg.Timestamp,
			User:      msg.User,
			Text:      msg.Text,
		})
	}
	// History arrives newest first; commands must be handled in order.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// CommitCursor implements Transport.
func (t *SlackTransport) CommitCursor(ctx context.Context, ts string) error {
	if err := t.store.Put(ctx, store.NSChatCursor, cursorKey, ts); err != nil {
		return fmt.Errorf("commit chat cursor: %w", err)
	}
	return nil
}
