package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Responses are consumed in order;
// when the list runs out the last response repeats.
type Fake struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Prompts   []string // prompts observed, in call order
	idx       int
}

var _ Client = (*Fake)(nil)

func (f *Fake) next(prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", fmt.Errorf("fake llm has no responses")
	}
	resp := f.Responses[min(f.idx, len(f.Responses)-1)]
	f.idx++
	return resp, nil
}

// Complete implements Client.
func (f *Fake) Complete(_ context.Context, prompt string, _ int) (string, error) {
	return f.next(prompt)
}

// CompleteJSON implements Client.
func (f *Fake) CompleteJSON(_ context.Context, prompt string, out any) error {
	resp, err := f.next(prompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripFences(resp)), out); err != nil {
		return fmt.Errorf("model returned malformed JSON: %w", err)
	}
	return nil
}
