// Package agents holds the two disjoint agent registries and the filing
// dispatcher. Filing agents are triggered by classified filings; scheduled
// agents run on a cadence over the whole portfolio. A name lives in exactly
// one registry.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/spacwatch/spacwatch/pkg/models"
)

// Result is the outcome of one agent run.
type Result struct {
	Summary       string
	ChangedFields []string
}

// FilingAgent processes one classified filing.
type FilingAgent interface {
	Name() string
	Process(ctx context.Context, filing *models.Filing, classification *models.Classification) (Result, error)
}

// ScheduledAgent runs on a cadence over the entire entity set.
type ScheduledAgent interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Registry holds both agent kinds, keyed by name.
type Registry struct {
	filing    map[string]FilingAgent
	scheduled map[string]ScheduledAgent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filing:    make(map[string]FilingAgent),
		scheduled: make(map[string]ScheduledAgent),
	}
}

// RegisterFiling adds a filing agent. A name may appear in only one
// registry, once.
func (r *Registry) RegisterFiling(a FilingAgent) error {
	name := a.Name()
	if _, ok := r.filing[name]; ok {
		return fmt.Errorf("filing agent %q already registered", name)
	}
	if _, ok := r.scheduled[name]; ok {
		return fmt.Errorf("agent %q already registered as scheduled", name)
	}
	r.filing[name] = a
	return nil
}

// RegisterScheduled adds a scheduled agent under the same disjointness
// rules.
func (r *Registry) RegisterScheduled(a ScheduledAgent) error {
	name := a.Name()
	if _, ok := r.scheduled[name]; ok {
		return fmt.Errorf("scheduled agent %q already registered", name)
	}
	if _, ok := r.filing[name]; ok {
		return fmt.Errorf("agent %q already registered as filing", name)
	}
	r.scheduled[name] = a
	return nil
}

// Filing returns the named filing agent.
func (r *Registry) Filing(name string) (FilingAgent, bool) {
	a, ok := r.filing[name]
	return a, ok
}

// Scheduled returns the named scheduled agent.
func (r *Registry) Scheduled(name string) (ScheduledAgent, bool) {
	a, ok := r.scheduled[name]
	return a, ok
}

// ScheduledNames returns the sorted names of all scheduled agents. The
// scheduler advertises this closed set to the LLM advisory pass.
func (r *Registry) ScheduledNames() []string {
	names := make([]string, 0, len(r.scheduled))
	for name := range r.scheduled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
