// Package chat is the operator-facing message transport: outbound alerts
// and digests, and inbound review commands. The transport never drops
// inbound commands; the poll cursor only advances after the caller has
// durably handled a batch.
package chat

import (
	"context"
	"strings"
)

// Message is one inbound operator message.
type Message struct {
	// Timestamp is the transport-assigned message id, monotone per channel.
	Timestamp string
	User      string
	Text      string
}

// Transport sends operator messages and polls for replies.
type Transport interface {
	// Send posts text to the configured channel, auto-chunking payloads
	// over the transport's message limit.
	Send(ctx context.Context, text string) error

	// PollUpdates returns inbound messages newer than the durable cursor,
	// oldest first. The cursor is not advanced here.
	PollUpdates(ctx context.Context) ([]Message, error)

	// CommitCursor durably advances the cursor past the given message.
	// Called only after the batch has been handled, so a crash re-delivers
	// rather than loses commands.
	CommitCursor(ctx context.Context, ts string) error
}

// chunkText splits text into pieces no longer than limit runes, preferring
// newline boundaries so tables and lists stay readable.
func chunkText(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
