package chat

import (
	"context"
	"sync"
)

// FakeTransport is an in-memory Transport for tests.
type FakeTransport struct {
	mu      sync.Mutex
	Sent    []string
	Inbound []Message
	Cursor  string
	SendErr error
	PollErr error
}

var _ Transport = (*FakeTransport)(nil)

// Send implements Transport.
func (f *FakeTransport) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, text)
	return nil
}

// PollUpdates implements Transport. Returns messages newer than the cursor.
func (f *FakeTransport) PollUpdates(_ context.Context) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	var out []Message
	for _, m := range f.Inbound {
		if m.Timestamp > f.Cursor {
			out = append(out, m)
		}
	}
	return out, nil
}

// CommitCursor implements Transport.
func (f *FakeTransport) CommitCursor(_ context.Context, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cursor = ts
	return nil
}

// LastSent returns the most recent message, or empty.
func (f *FakeTransport) LastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return ""
	}
	return f.Sent[len(f.Sent)-1]
}
