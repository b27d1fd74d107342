package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/repo"
)

const conversationMaxTokens = 400

// Sender delivers review messages to the operator chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// FixApplier applies an approved fix template.
type FixApplier interface {
	Apply(ctx context.Context, ticker, templateID string, overrides map[string]string) (map[string]repo.FieldChange, error)
}

// Reviewer drives a review session: it presents issues one at a time,
// routes operator replies, applies approved fixes, and falls back to an
// LLM conversation for free-form questions.
type Reviewer struct {
	queues *Queues
	sender Sender
	fixes  FixApplier // nil records approvals without applying
	llm    llm.Client // nil disables the conversational fallback
	db     *sql.DB    // conversation transcript; nil skips persistence
	logger *slog.Logger
}

// NewReviewer wires a review session. fixes, llmClient, and db may be nil.
func NewReviewer(queues *Queues, sender Sender, fixes FixApplier, llmClient llm.Client, db *sql.DB) *Reviewer {
	return &Reviewer{
		queues: queues,
		sender: sender,
		fixes:  fixes,
		llm:    llmClient,
		db:     db,
		logger: slog.Default().With("component", "review"),
	}
}

// Start opens a queue over the issues and presents the first one.
func (r *Reviewer) Start(ctx context.Context, issues []*models.Issue, triggeredBy, priority string) (*Queue, error) {
	queue, err := r.queues.Create(ctx, issues, triggeredBy, priority)
	if err != nil {
		return nil, err
	}
	if err := r.PresentCurrent(ctx, queue.ID); err != nil {
		return nil, err
	}
	return queue, nil
}

// PresentCurrent sends the issue at the cursor to the operator and flags
// the queue as awaiting a response. A drained queue gets a closing note.
func (r *Reviewer) PresentCurrent(ctx context.Context, queueID string) error {
	item, err := r.queues.Current(ctx, queueID)
	if errors.Is(err, ErrNothingPending) {
		return r.sender.Send(ctx, "Review complete. No issues remaining.")
	}
	if err != nil {
		return err
	}
	total, err := r.queues.Total(ctx, queueID)
	if err != nil {
		return err
	}
	if err := r.sender.Send(ctx, FormatIssue(item, total)); err != nil {
		return err
	}
	return r.queues.SetAwaiting(ctx, queueID, true)
}

// FormatIssue renders one issue for chat presentation.
func FormatIssue(item *Item, total int) string {
	issue := item.Issue
	var b strings.Builder
	fmt.Fprintf(&b, "*Issue %d of %d* [%s] %s\n", item.Position+1, total, issue.Ticker, issue.Rule)
	fmt.Fprintf(&b, "Field: `%s`  Severity: %s\n", issue.Field, issue.Severity)
	if issue.Message != "" {
		fmt.Fprintf(&b, "%s\n", issue.Message)
	}
	if issue.Actual != "" || issue.Expected != "" {
		fmt.Fprintf(&b, "Current: `%s`  Expected: `%s`\n", issue.Actual, issue.Expected)
	}
	if issue.AutoFix != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", issue.AutoFix)
	} else if issue.SuggestedFix != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", issue.SuggestedFix)
	}
	if issue.Research != nil {
		fmt.Fprintf(&b, "Research (confidence %.0f%%): %s\n",
			issue.Research.Confidence*100, issue.Research.Summary)
	}
	b.WriteString("Reply APPROVE, SKIP, APPROVE ALL, APPROVE <pattern>, or ask a question.")
	return b.String()
}

// HandleMessage routes one operator reply against the active queue.
func (r *Reviewer) HandleMessage(ctx context.Context, text string) error {
	queue, err := r.queues.Active(ctx)
	if errors.Is(err, ErrNoActiveQueue) {
		return r.sender.Send(ctx, "No review in progress.")
	}
	if err != nil {
		return err
	}

	kind, arg := parseCommand(text)
	switch kind {
	case cmdApprove:
		return r.approveCurrent(ctx, queue)
	case cmdSkip:
		if _, err := r.queues.SkipCurrent(ctx, queue.ID, arg); err != nil {
			if errors.Is(err, ErrNothingPending) {
				return r.sender.Send(ctx, "Nothing to skip.")
			}
			return err
		}
		return r.PresentCurrent(ctx, queue.ID)
	case cmdApproveAll:
		return r.batchApprove(ctx, queue, "")
	case cmdApprovePattern:
		return r.batchApprove(ctx, queue, arg)
	case cmdStatus:
		return r.sendStatus(ctx, queue)
	}
	return r.converse(ctx, queue, text)
}

func (r *Reviewer) approveCurrent(ctx context.Context, queue *Queue) error {
	item, err := r.queues.Current(ctx, queue.ID)
	if errors.Is(err, ErrNothingPending) {
		return r.sender.Send(ctx, "Nothing to approve.")
	}
	if err != nil {
		return err
	}

	notes := "approved"
	if msg := r.applyFix(ctx, item.Issue); msg != "" {
		notes = msg
		if err := r.sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	if _, err := r.queues.ApproveCurrent(ctx, queue.ID, notes); err != nil {
		return err
	}
	return r.PresentCurrent(ctx, queue.ID)
}

func (r *Reviewer) batchApprove(ctx context.Context, queue *Queue, pattern string) error {
	items, err := r.queues.BatchApprove(ctx, queue.ID, pattern)
	if err != nil {
		return err
	}
	for _, item := range items {
		if msg := r.applyFix(ctx, item.Issue); msg != "" {
			r.logger.Info("Batch fix result", "ticker", item.Issue.Ticker, "result", msg)
		}
	}
	label := "all remaining"
	if pattern != "" {
		label = fmt.Sprintf("matching %q", pattern)
	}
	if err := r.sender.Send(ctx,
		fmt.Sprintf("Approved %d issues %s.", len(items), label)); err != nil {
		return err
	}
	return r.PresentCurrent(ctx, queue.ID)
}

// applyFix runs the issue's fix template when one is attached. Returns a
// human-readable outcome, or "" when there was nothing to apply.
func (r *Reviewer) applyFix(ctx context.Context, issue *models.Issue) string {
	if r.fixes == nil || issue.AutoFix == "" {
		return ""
	}
	applied, err := r.fixes.Apply(ctx, issue.Ticker, issue.AutoFix, nil)
	if err != nil {
		r.logger.Warn("Approved fix failed",
			"ticker", issue.Ticker, "template", issue.AutoFix, "error", err)
		return fmt.Sprintf("Fix %s on %s failed: %v", issue.AutoFix, issue.Ticker, err)
	}
	return fmt.Sprintf("Applied %s to %s (%d fields).", issue.AutoFix, issue.Ticker, len(applied))
}

func (r *Reviewer) sendStatus(ctx context.Context, queue *Queue) error {
	pending, err := r.queues.PendingCount(ctx, queue.ID)
	if err != nil {
		return err
	}
	total, err := r.queues.Total(ctx, queue.ID)
	if err != nil {
		return err
	}
	return r.sender.Send(ctx,
		fmt.Sprintf("Queue %s: %d of %d issues pending.", queue.ID, pending, total))
}

// converse answers a free-form operator message with the current issue as
// context. Both sides of the exchange are persisted.
func (r *Reviewer) converse(ctx context.Context, queue *Queue, text string) error {
	if r.llm == nil {
		return r.sender.Send(ctx,
			"I can only process commands right now. Reply APPROVE, SKIP, APPROVE ALL, or APPROVE <pattern>.")
	}

	issueID := ""
	issueContext := "No issue is currently presented."
	if item, err := r.queues.Current(ctx, queue.ID); err == nil {
		issueID = item.Issue.ID
		issueContext = fmt.Sprintf(
			"Current issue: ticker %s, field %s, rule %q, severity %s, actual %q, expected %q. %s",
			item.Issue.Ticker, item.Issue.Field, item.Issue.Rule,
			item.Issue.Severity, item.Issue.Actual, item.Issue.Expected, item.Issue.Message)
	}

	r.recordMessage(ctx, queue.ID, issueID, "user", text)

	prompt := fmt.Sprintf(
		"You are assisting an operator reviewing data-quality issues in a portfolio database.\n%s\n\nOperator message: %s\n\nAnswer briefly and factually. If the operator seems to want to approve or skip, remind them of the exact commands.",
		issueContext, text)
	reply, err := r.llm.Complete(ctx, prompt, conversationMaxTokens)
	if err != nil {
		r.logger.Warn("Conversation completion failed", "error", err)
		return r.sender.Send(ctx, "I could not process that right now. Commands still work: APPROVE, SKIP, APPROVE ALL.")
	}

	r.recordMessage(ctx, queue.ID, issueID, "assistant", reply)
	return r.sender.Send(ctx, reply)
}

// recordMessage appends one transcript row, best-effort.
func (r *Reviewer) recordMessage(ctx context.Context, queueID, issueID, role, content string) {
	if r.db == nil {
		return
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_quality_conversations (queue_id, issue_id, role, content)
		 VALUES ($1, $2, $3, $4)`,
		queueID, issueID, role, content)
	if err != nil {
		r.logger.Warn("Failed to persist conversation message", "error", err)
	}
}

// Operator commands.
type commandKind int

const (
	cmdConversation commandKind = iota
	cmdApprove
	cmdSkip
	cmdApproveAll
	cmdApprovePattern
	cmdStatus
)

// parseCommand classifies an operator message. Anything not recognized is
// a conversational message.
func parseCommand(text string) (commandKind, string) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	switch upper {
	case "APPROVE", "YES", "Y", "OK":
		return cmdApprove, ""
	case "SKIP", "NEXT", "NO", "N":
		return cmdSkip, ""
	case "APPROVE ALL":
		return cmdApproveAll, ""
	case "STATUS":
		return cmdStatus, ""
	}
	if rest, ok := strings.CutPrefix(upper, "APPROVE "); ok {
		return cmdApprovePattern, strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(upper, "SKIP "); ok {
		return cmdSkip, strings.TrimSpace(rest)
	}
	return cmdConversation, ""
}
