// Package scheduler runs the control loop: one tick at a time, it services
// the review queue, evaluates the time-gated monitor table, asks the
// advisory model for extra work, and executes the merged schedule in
// priority order. All cadence state lives in the durable state store, so a
// restart resumes where the previous process stopped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spacwatch/spacwatch/pkg/agents"
	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// TaskFilingSync is the poll-classify-dispatch pipeline's task name. It is
// the primary sync path; everything else is a backup or enrichment.
const TaskFilingSync = "FilingSync"

const advisoryMaxAgents = 4

// Pipeline runs one full filing sync: poll, classify, dispatch, log.
type Pipeline interface {
	SyncFilings(ctx context.Context) error
}

// QueueServicer drains approved review-queue work before new work opens.
type QueueServicer interface {
	ServiceQueue(ctx context.Context) error
}

// EntityInfo is the read-only portfolio view the scheduler needs for the
// accelerated-set pickup and the advisory summary.
type EntityInfo interface {
	ListActive(ctx context.Context) ([]*models.Spac, error)
	AcceleratedTickers(ctx context.Context, now time.Time) ([]string, error)
}

// task is one row of the cadence table.
type task struct {
	name     string
	priority models.Priority

	// interval-based cadence; nil for once-per-day and weekly tasks.
	interval func(accelerated bool) time.Duration

	// gate holds extra conditions beyond the interval. Returns whether the
	// task may run now and, if not, when it next could.
	gate func(now time.Time) (bool, time.Time)

	oncePerDay  bool
	oncePerWeek bool
	clock       string // local "15:04" opening time for once-per tasks
	disabled    bool

	run func(ctx context.Context) error
}

// Scheduler owns the control loop.
type Scheduler struct {
	cfg      *config.SchedulerConfig
	store    *store.Store
	registry *agents.Registry
	pipeline Pipeline      // nil disables the filing sync task
	queue    QueueServicer // nil skips queue servicing
	entities EntityInfo
	llm      llm.Client // nil disables the advisory pass
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	tasks    []*task
}

// New builds the scheduler and its cadence table.
func New(cfg *config.SchedulerConfig, st *store.Store, registry *agents.Registry,
	pipeline Pipeline, queue QueueServicer, entities EntityInfo, model llm.Client) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading market timezone: %w", err)
	}
	s := &Scheduler{
		cfg:      cfg,
		store:    st,
		registry: registry,
		pipeline: pipeline,
		queue:    queue,
		entities: entities,
		llm:      model,
		loc:      loc,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	s.tasks = s.buildTable()
	return s, nil
}

// buildTable assembles the monitor cadence table.
func (s *Scheduler) buildTable() []*task {
	cfg := s.cfg
	table := []*task{
		{
			name:     TaskFilingSync,
			priority: models.PriorityHigh,
			interval: func(accelerated bool) time.Duration {
				if accelerated {
					return cfg.AcceleratedPollInterval
				}
				return cfg.FilingPollInterval
			},
			disabled: s.pipeline == nil,
			run: func(ctx context.Context) error {
				return s.pipeline.SyncFilings(ctx)
			},
		},
		{
			name:     agents.AgentNewsMonitor,
			priority: models.PriorityMedium,
			interval: func(bool) time.Duration { return cfg.NewsPollInterval },
			run:      s.runScheduledAgent(agents.AgentNewsMonitor),
		},
		{
			name:     agents.AgentPriceUpdater,
			priority: models.PriorityMedium,
			interval: func(bool) time.Duration { return cfg.PriceUpdateInterval },
			gate: func(now time.Time) (bool, time.Time) {
				if marketOpen(now, cfg.MarketOpen, cfg.MarketClose, s.loc) {
					return true, time.Time{}
				}
				return false, nextMarketOpen(now, cfg.MarketOpen, s.loc)
			},
			run: s.runScheduledAgent(agents.AgentPriceUpdater),
		},
		{
			name:     agents.AgentSocialMonitor,
			priority: models.PriorityLow,
			interval: func(bool) time.Duration { return cfg.SocialPollInterval },
			disabled: !cfg.SocialEnabled,
			run:      s.runScheduledAgent(agents.AgentSocialMonitor),
		},
		{
			name:       agents.AgentAfterMarket,
			priority:   models.PriorityMedium,
			oncePerDay: true,
			clock:      cfg.AfterMarketTime,
			gate:       s.afterClockGate(cfg.AfterMarketTime),
			run:        s.runScheduledAgent(agents.AgentAfterMarket),
		},
		{
			name:       agents.AgentDailyChecks,
			priority:   models.PriorityMedium,
			oncePerDay: true,
			clock:      cfg.DailyCheckTime,
			gate:       s.afterClockGate(cfg.DailyCheckTime),
			run:        s.runScheduledAgent(agents.AgentDailyChecks),
		},
		{
			name:       agents.AgentPremiumAlerter,
			priority:   models.PriorityMedium,
			oncePerDay: true,
			clock:      cfg.DailyCheckTime,
			gate:       s.afterClockGate(cfg.DailyCheckTime),
			run:        s.runScheduledAgent(agents.AgentPremiumAlerter),
		},
		{
			name:        agents.AgentWeeklyEnrichment,
			priority:    models.PriorityLow,
			oncePerWeek: true,
			gate: func(now time.Time) (bool, time.Time) {
				local := now.In(s.loc)
				if local.Weekday().String() == cfg.WeeklyDay &&
					!local.Before(clockAt(now, cfg.WeeklyTime, s.loc)) {
					return true, time.Time{}
				}
				return false, time.Time{}
			},
			run: s.runScheduledAgent(agents.AgentWeeklyEnrichment),
		},
		{
			name:       agents.AgentDailyDigest,
			priority:   models.PriorityLow,
			oncePerDay: true,
			clock:      cfg.DigestTime,
			gate:       s.afterClockGate(cfg.DigestTime),
			run:        s.runScheduledAgent(agents.AgentDailyDigest),
		},
	}
	return table
}

// afterClockGate opens from the given local clock time to midnight.
func (s *Scheduler) afterClockGate(hhmm string) func(time.Time) (bool, time.Time) {
	return func(now time.Time) (bool, time.Time) {
		at := clockAt(now, hhmm, s.loc)
		if !now.In(s.loc).Before(at) {
			return true, time.Time{}
		}
		return false, at
	}
}

// runScheduledAgent adapts a registry lookup into a task runner.
func (s *Scheduler) runScheduledAgent(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		agent, ok := s.registry.Scheduled(name)
		if !ok {
			return fmt.Errorf("scheduled agent %q not registered", name)
		}
		result, err := agent.Run(ctx)
		if err != nil {
			return err
		}
		if result.Summary != "" {
			s.logger.Info("Scheduled agent finished", "agent", name, "summary", result.Summary)
		}
		return nil
	}
}

// Run drives the loop until Stop or context cancellation. An interrupt
// requested through Stop lets the in-flight tick finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("Tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping on cancellation")
			return nil
		case <-s.stop:
			s.logger.Info("Scheduler stopping after completed tick")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests a graceful exit after the current tick.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Tick performs one full scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	if err := s.store.Put(ctx, store.NSHealth, "scheduler", now); err != nil {
		s.logger.Warn("Failed to record scheduler health", "error", err)
	}

	accelerated, err := s.entities.AcceleratedTickers(ctx, now)
	if err != nil {
		s.logger.Warn("Failed to read accelerated set", "error", err)
	}
	if len(accelerated) > 0 {
		s.logger.Info("Accelerated polling active", "tickers", strings.Join(accelerated, ","))
	}

	if s.queue != nil {
		if err := s.queue.ServiceQueue(ctx); err != nil {
			s.logger.Error("Queue servicing failed", "error", err)
		}
	}

	due := s.dueTasks(ctx, now, len(accelerated) > 0)
	merged := s.merge(due, s.advisory(ctx, due))

	for _, t := range merged {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.execute(ctx, t)
	}
	return nil
}

// dueTasks evaluates the cadence table. Ineligible tasks get a status line
// with the time until their next chance.
func (s *Scheduler) dueTasks(ctx context.Context, now time.Time, accelerated bool) []*task {
	var due []*task
	for _, t := range s.tasks {
		if t.disabled {
			continue
		}
		eligible, nextAt := s.eligible(ctx, t, now, accelerated)
		if eligible {
			due = append(due, t)
			continue
		}
		if !nextAt.IsZero() {
			s.logger.Info("Task waiting",
				"task", t.name, "next_in", nextAt.Sub(now).Round(time.Second).String())
		}
	}
	return due
}

// eligible applies the (last_run, interval) rule and the task's gates.
func (s *Scheduler) eligible(ctx context.Context, t *task, now time.Time, accelerated bool) (bool, time.Time) {
	lastRun, haveLast := s.lastRun(ctx, t.name)

	if t.gate != nil {
		ok, nextAt := t.gate(now)
		if !ok {
			return false, nextAt
		}
	}
	switch {
	case t.oncePerDay:
		if haveLast && sameLocalDay(lastRun, now, s.loc) {
			return false, clockAt(now.AddDate(0, 0, 1), t.clock, s.loc)
		}
		return true, time.Time{}
	case t.oncePerWeek:
		if haveLast && sameISOWeek(lastRun, now, s.loc) {
			return false, time.Time{}
		}
		return true, time.Time{}
	default:
		interval := t.interval(accelerated)
		if !haveLast || now.Sub(lastRun) >= interval {
			return true, time.Time{}
		}
		return false, lastRun.Add(interval)
	}
}

// advisory asks the model for additional scheduled agents to run now. The
// closed set is the registry's scheduled names; a parse failure falls back
// to the price monitor alone.
func (s *Scheduler) advisory(ctx context.Context, alreadyDue []*task) []string {
	if s.llm == nil {
		return nil
	}

	summary := s.stateSummary(ctx, alreadyDue)
	allowed := s.registry.ScheduledNames()
	prompt := fmt.Sprintf(`You advise a portfolio monitoring scheduler. The filing poller is the primary sync path; scheduled agents are backups and enrichment. Be conservative: propose extra agents only when the state summary clearly warrants it.

State summary:
%s

Allowed agent names: %s

Respond with JSON only: {"agents": ["..."], "reason": "..."}. An empty list is a good answer.`,
		summary, strings.Join(allowed, ", "))

	var resp struct {
		Agents []string `json:"agents"`
		Reason string   `json:"reason"`
	}
	if err := s.llm.CompleteJSON(ctx, prompt, &resp); err != nil {
		s.logger.Warn("Advisory pass failed, falling back to price monitor", "error", err)
		return []string{agents.AgentPriceUpdater}
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	var out []string
	for _, name := range resp.Agents {
		if allowedSet[name] && len(out) < advisoryMaxAgents {
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		s.logger.Info("Advisory schedule", "agents", strings.Join(out, ","), "reason", resp.Reason)
	}
	return out
}

// stateSummary condenses the portfolio and cadence state for the advisory
// prompt.
func (s *Scheduler) stateSummary(ctx context.Context, due []*task) string {
	var b strings.Builder

	entities, err := s.entities.ListActive(ctx)
	if err != nil {
		fmt.Fprintf(&b, "entity listing unavailable: %v\n", err)
	} else {
		counts := map[models.Status]int{}
		upcoming, expired := 0, 0
		now := s.now()
		for _, e := range entities {
			counts[e.Status]++
			if t, ok := models.ParseFlexibleDate(e.VoteDate); ok && t.After(now) {
				upcoming++
			}
			if t, ok := models.ParseFlexibleDate(e.DeadlineDate); ok &&
				t.Before(now) && e.Status == models.StatusAnnounced {
				expired++
			}
		}
		fmt.Fprintf(&b, "tracked entities: %d\n", len(entities))
		for status, n := range counts {
			fmt.Fprintf(&b, "  %s: %d\n", status, n)
		}
		fmt.Fprintf(&b, "upcoming votes: %d\nexpired with announced deals: %d\n", upcoming, expired)
	}

	names := make([]string, 0, len(due))
	for _, t := range due {
		names = append(names, t.name)
	}
	fmt.Fprintf(&b, "already scheduled this tick: %s\n", strings.Join(names, ", "))

	for _, t := range s.tasks {
		if last, ok := s.lastRun(ctx, t.name); ok {
			fmt.Fprintf(&b, "%s last ran %s ago\n", t.name, s.now().Sub(last).Round(time.Minute))
		}
	}
	return b.String()
}

// merge combines the time-gated tasks with advisory additions and orders
// the result by priority, criticals first.
func (s *Scheduler) merge(due []*task, advised []string) []*task {
	seen := make(map[string]bool, len(due))
	merged := make([]*task, 0, len(due)+len(advised))
	for _, t := range due {
		seen[t.name] = true
		merged = append(merged, t)
	}
	for _, name := range advised {
		if seen[name] {
			continue
		}
		seen[name] = true
		merged = append(merged, &task{
			name:     name,
			priority: models.PriorityMedium,
			run:      s.runScheduledAgent(name),
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].priority.Rank() != merged[j].priority.Rank() {
			return merged[i].priority.Rank() < merged[j].priority.Rank()
		}
		return merged[i].name < merged[j].name
	})
	return merged
}

// execute runs one task, stamping last_run up front and last_success after
// a clean finish.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	started := s.now()
	if err := s.store.Put(ctx, store.NSSchedulerLastRun, t.name, started); err != nil {
		s.logger.Warn("Failed to stamp last_run", "task", t.name, "error", err)
	}

	if err := t.run(ctx); err != nil {
		s.logger.Error("Task failed", "task", t.name, "error", err,
			"duration", s.now().Sub(started).Round(time.Millisecond))
		return
	}
	if err := s.store.Put(ctx, store.NSSchedulerLastSuccess, t.name, s.now()); err != nil {
		s.logger.Warn("Failed to stamp last_success", "task", t.name, "error", err)
	}
	s.logger.Info("Task complete", "task", t.name,
		"duration", s.now().Sub(started).Round(time.Millisecond))
}

// lastRun reads a task's last_run stamp from the state store.
func (s *Scheduler) lastRun(ctx context.Context, name string) (time.Time, bool) {
	var t time.Time
	err := s.store.Get(ctx, store.NSSchedulerLastRun, name, &t)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false
	}
	if err != nil {
		s.logger.Warn("Failed to read last_run", "task", name, "error", err)
		return time.Time{}, false
	}
	return t, true
}

// LastRunAges reports per-task time since last_run, for the status surface.
func (s *Scheduler) LastRunAges(ctx context.Context) map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.tasks))
	for _, t := range s.tasks {
		if last, ok := s.lastRun(ctx, t.name); ok {
			out[t.name] = s.now().Sub(last)
		}
	}
	return out
}
