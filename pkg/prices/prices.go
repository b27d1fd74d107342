// Package prices abstracts the market-data source consumed by the price
// updater. The orchestrator only needs current quotes and a short history;
// providers are injected so tests run against a fixed book.
package prices

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Quote is one observed price.
type Quote struct {
	Ticker string
	Price  float64
	Time   time.Time
}

// PriceSource supplies market data.
type PriceSource interface {
	// Current returns the latest quote for a ticker.
	Current(ctx context.Context, ticker string) (Quote, error)

	// History returns quotes over the trailing period, oldest first.
	History(ctx context.Context, ticker string, period time.Duration) ([]Quote, error)
}

// StaticSource is a fixed in-memory book. Used by tests and dry runs.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

var _ PriceSource = (*StaticSource)(nil)

// NewStaticSource creates an empty static book.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]Quote)}
}

// Set stores the quote for a ticker.
func (s *StaticSource) Set(ticker string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ticker] = Quote{Ticker: ticker, Price: price, Time: time.Now()}
}

// Current implements PriceSource.
func (s *StaticSource) Current(_ context.Context, ticker string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[ticker]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", ticker)
	}
	return q, nil
}

// History implements PriceSource. The static book has no depth; history is
// the current quote alone.
func (s *StaticSource) History(ctx context.Context, ticker string, _ time.Duration) ([]Quote, error) {
	q, err := s.Current(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return []Quote{q}, nil
}
