package models

// Alert is an outbound operator notification. Deduplicated per
// (Type, Ticker, Key) with a cooldown by the chat notifier.
type Alert struct {
	Type     string
	Ticker   string
	Key      string
	Message  string
	Priority Priority
}

// DedupKey is the identity used for cooldown-based deduplication.
func (a Alert) DedupKey() string {
	return a.Type + "|" + a.Ticker + "|" + a.Key
}
