// Package app wires the pipeline stages into the units the scheduler
// drives: the poll-classify-dispatch filing sync, the chat-servicing loop
// that feeds operator replies into the review session, and the validation
// sweep. Each unit depends on narrow interfaces so tests inject fakes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spacwatch/spacwatch/pkg/chat"
	"github.com/spacwatch/spacwatch/pkg/improve"
	"github.com/spacwatch/spacwatch/pkg/models"
)

// EntitySource is the portfolio read view the pipeline needs.
type EntitySource interface {
	ListActive(ctx context.Context) ([]*models.Spac, error)
	ByTicker(ctx context.Context, ticker string) (*models.Spac, error)
}

// FilingPoller surfaces new filings for a set of entities.
type FilingPoller interface {
	Poll(ctx context.Context, entities []*models.Spac) []models.Filing
}

// FilingClassifier assigns priority, routing, and a summary to one filing.
type FilingClassifier interface {
	Classify(ctx context.Context, filing *models.Filing, entity *models.Spac) models.Classification
}

// FilingDispatcher runs agents and durably logs each classified filing.
type FilingDispatcher interface {
	DispatchAll(ctx context.Context, filings []models.Filing) []*models.AgentTask
}

// Pipeline is the primary sync path: poll every active entity, classify
// what came back, dispatch. It satisfies the scheduler's Pipeline contract.
type Pipeline struct {
	entities   EntitySource
	poller     FilingPoller
	classifier FilingClassifier
	dispatcher FilingDispatcher
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(entities EntitySource, poller FilingPoller, classifier FilingClassifier, dispatcher FilingDispatcher) *Pipeline {
	return &Pipeline{
		entities:   entities,
		poller:     poller,
		classifier: classifier,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// SyncFilings runs one full pass. Classification never fails a filing
// (tier-1 always produces a result), so every polled filing reaches
// dispatch.
func (p *Pipeline) SyncFilings(ctx context.Context) error {
	entities, err := p.entities.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active entities: %w", err)
	}
	if len(entities) == 0 {
		return nil
	}
	byTicker := make(map[string]*models.Spac, len(entities))
	for _, e := range entities {
		byTicker[e.Ticker] = e
	}

	filings := p.poller.Poll(ctx, entities)
	if len(filings) == 0 {
		return nil
	}
	for i := range filings {
		cl := p.classifier.Classify(ctx, &filings[i], byTicker[filings[i].Ticker])
		filings[i].Classification = &cl
	}

	tasks := p.dispatcher.DispatchAll(ctx, filings)
	failed := 0
	for _, t := range tasks {
		if t.Status == models.TaskFailed {
			failed++
		}
	}
	p.logger.Info("Filing sync completed",
		"filings", len(filings), "tasks", len(tasks), "failed", failed)
	return nil
}

// MessageHandler consumes one operator reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, text string) error
}

// Improver is the proposal approval surface reachable from chat.
type Improver interface {
	Approve(ctx context.Context, id int64) (*improve.Proposal, error)
	Reject(ctx context.Context, id int64) error
}

// Servicer drains inbound chat messages into the review session and the
// improvement approval flow. It satisfies the scheduler's QueueServicer
// contract. The cursor commits per message, so a crash mid-batch
// re-delivers only the unhandled tail.
type Servicer struct {
	transport chat.Transport
	reviewer  MessageHandler
	improver  Improver // nil disables IMPROVE commands
	logger    *slog.Logger
}

// NewServicer creates a Servicer. improver may be nil.
func NewServicer(transport chat.Transport, reviewer MessageHandler, improver Improver) *Servicer {
	return &Servicer{
		transport: transport,
		reviewer:  reviewer,
		improver:  improver,
		logger:    slog.Default().With("component", "servicer"),
	}
}

// ServiceQueue polls and handles pending operator messages.
func (s *Servicer) ServiceQueue(ctx context.Context) error {
	msgs, err := s.transport.PollUpdates(ctx)
	if err != nil {
		return fmt.Errorf("polling chat updates: %w", err)
	}
	for _, msg := range msgs {
		if err := s.route(ctx, msg.Text); err != nil {
			// The message stays uncommitted and re-delivers next pass.
			s.logger.Error("Message handling failed",
				"ts", msg.Timestamp, "error", err)
			return err
		}
		if err := s.transport.CommitCursor(ctx, msg.Timestamp); err != nil {
			return fmt.Errorf("committing chat cursor: %w", err)
		}
	}
	return nil
}

// route sends IMPROVE commands to the tracker and everything else to the
// review session.
func (s *Servicer) route(ctx context.Context, text string) error {
	verb, id, ok := parseImproveCommand(text)
	if !ok || s.improver == nil {
		return s.reviewer.HandleMessage(ctx, text)
	}

	switch verb {
	case "APPLY":
		proposal, err := s.improver.Approve(ctx, id)
		if err != nil {
			return s.transport.Send(ctx,
				fmt.Sprintf("Could not apply proposal #%d: %v", id, err))
		}
		return s.transport.Send(ctx,
			fmt.Sprintf("Applied proposal #%d (%s). Backups written alongside each changed file.",
				id, proposal.PatternKey))
	case "REJECT":
		if err := s.improver.Reject(ctx, id); err != nil {
			return s.transport.Send(ctx,
				fmt.Sprintf("Could not reject proposal #%d: %v", id, err))
		}
		return s.transport.Send(ctx, fmt.Sprintf("Rejected proposal #%d.", id))
	}
	return s.reviewer.HandleMessage(ctx, text)
}

// parseImproveCommand matches "IMPROVE APPLY <n>" and "IMPROVE REJECT <n>".
func parseImproveCommand(text string) (verb string, id int64, ok bool) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(text)))
	if len(fields) != 3 || fields[0] != "IMPROVE" {
		return "", 0, false
	}
	if fields[1] != "APPLY" && fields[1] != "REJECT" {
		return "", 0, false
	}
	n, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return fields[1], n, true
}
