// Package review implements the sequential operator review of validation
// issues: a durable queue with a monotone cursor, chat presentation, a
// command router for operator replies, and an LLM fallback conversation
// for free-form questions.
package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spacwatch/spacwatch/pkg/models"
)

var (
	// ErrActiveQueue means a queue with pending items already exists; the
	// operator must drain or clear it before a new one is created.
	ErrActiveQueue = errors.New("an active review queue still has pending items")

	// ErrNoActiveQueue means there is nothing to review.
	ErrNoActiveQueue = errors.New("no active review queue")

	// ErrNothingPending means the cursor is past the last pending item.
	ErrNothingPending = errors.New("no pending item at the cursor")
)

// Queue is one review session over a batch of issues.
type Queue struct {
	ID               string
	Status           string // active or completed
	TriggeredBy      string
	Priority         string
	CurrentIndex     int
	AwaitingResponse bool
	CreatedAt        time.Time
}

// Item is one issue within a queue, addressed by position.
type Item struct {
	QueueID  string
	Position int
	Issue    *models.Issue
	Status   models.IssueStatus
	Notes    string
}

// Queues persists review queues. The cursor update and the item status
// update always travel in the same transaction, and the cursor never
// moves backward.
type Queues struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueues creates the queue layer over the given database.
func NewQueues(db *sql.DB) *Queues {
	return &Queues{
		db:     db,
		logger: slog.Default().With("component", "review"),
	}
}

// Create opens a new active queue over the given issues. It refuses while
// any active queue still has pending items; fully drained actives are
// closed out on the way.
func (q *Queues) Create(ctx context.Context, issues []*models.Issue, triggeredBy, priority string) (*Queue, error) {
	var pending int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM validation_queue_items i
		 JOIN validation_queue vq ON vq.id = i.queue_id
		 WHERE vq.status = 'active' AND i.status = 'pending'`).Scan(&pending)
	if err != nil {
		return nil, fmt.Errorf("checking active queues: %w", err)
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: %d items", ErrActiveQueue, pending)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create queue: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE validation_queue SET status = 'completed', completed_at = now()
		 WHERE status = 'active'`); err != nil {
		return nil, fmt.Errorf("closing drained queues: %w", err)
	}

	queue := &Queue{
		ID:          uuid.NewString(),
		Status:      "active",
		TriggeredBy: triggeredBy,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO validation_queue (id, status, triggered_by, priority)
		 VALUES ($1, 'active', $2, $3)`,
		queue.ID, triggeredBy, priority); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	for i, issue := range issues {
		raw, err := json.Marshal(issue)
		if err != nil {
			return nil, fmt.Errorf("encode issue %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO validation_queue_items (queue_id, position, issue, status)
			 VALUES ($1, $2, $3, 'pending')`,
			queue.ID, i, raw); err != nil {
			return nil, fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create queue: commit: %w", err)
	}

	q.logger.Info("Review queue created",
		"queue_id", queue.ID, "items", len(issues), "triggered_by", triggeredBy)
	return queue, nil
}

// Active returns the current active queue.
func (q *Queues) Active(ctx context.Context) (*Queue, error) {
	queue := &Queue{}
	var completed sql.NullTime
	err := q.db.QueryRowContext(ctx,
		`SELECT id, status, triggered_by, priority, current_index, awaiting_response, created_at, completed_at
		 FROM validation_queue WHERE status = 'active'
		 ORDER BY created_at DESC LIMIT 1`).Scan(
		&queue.ID, &queue.Status, &queue.TriggeredBy, &queue.Priority,
		&queue.CurrentIndex, &queue.AwaitingResponse, &queue.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveQueue
	}
	if err != nil {
		return nil, fmt.Errorf("loading active queue: %w", err)
	}
	return queue, nil
}

// Current returns the first pending item at or after the cursor.
func (q *Queues) Current(ctx context.Context, queueID string) (*Item, error) {
	return scanItem(q.db.QueryRowContext(ctx,
		`SELECT i.queue_id, i.position, i.issue, i.status, i.notes
		 FROM validation_queue_items i
		 JOIN validation_queue vq ON vq.id = i.queue_id
		 WHERE i.queue_id = $1 AND i.status = 'pending' AND i.position >= vq.current_index
		 ORDER BY i.position LIMIT 1`, queueID))
}

// PendingCount reports how many items are still pending.
func (q *Queues) PendingCount(ctx context.Context, queueID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM validation_queue_items
		 WHERE queue_id = $1 AND status = 'pending'`, queueID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// Total reports the queue's item count.
func (q *Queues) Total(ctx context.Context, queueID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM validation_queue_items WHERE queue_id = $1`,
		queueID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("total count: %w", err)
	}
	return n, nil
}

// SetAwaiting flags whether an issue has been presented and a response is
// expected.
func (q *Queues) SetAwaiting(ctx context.Context, queueID string, awaiting bool) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE validation_queue SET awaiting_response = $2 WHERE id = $1`,
		queueID, awaiting)
	if err != nil {
		return fmt.Errorf("set awaiting: %w", err)
	}
	return nil
}

// ApproveCurrent marks the item at the cursor approved and advances.
func (q *Queues) ApproveCurrent(ctx context.Context, queueID, notes string) (*Item, error) {
	return q.resolveCurrent(ctx, queueID, models.IssueApproved, notes)
}

// SkipCurrent marks the item at the cursor skipped and advances.
func (q *Queues) SkipCurrent(ctx context.Context, queueID, reason string) (*Item, error) {
	return q.resolveCurrent(ctx, queueID, models.IssueSkipped, reason)
}

// resolveCurrent transitions the item at the cursor to a terminal status,
// advances the cursor past it, clears the awaiting flag, and completes the
// queue when nothing pending remains. One transaction.
func (q *Queues) resolveCurrent(ctx context.Context, queueID string, status models.IssueStatus, notes string) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT i.queue_id, i.position, i.issue, i.status, i.notes
		 FROM validation_queue_items i
		 JOIN validation_queue vq ON vq.id = i.queue_id
		 WHERE i.queue_id = $1 AND i.status = 'pending' AND i.position >= vq.current_index
		 ORDER BY i.position LIMIT 1
		 FOR UPDATE OF i`, queueID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE validation_queue_items
		 SET status = $3, notes = $4, resolved_at = now()
		 WHERE queue_id = $1 AND position = $2`,
		queueID, item.Position, string(status), notes); err != nil {
		return nil, fmt.Errorf("resolve item %d: %w", item.Position, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE validation_queue
		 SET current_index = GREATEST(current_index, $2), awaiting_response = FALSE
		 WHERE id = $1`,
		queueID, item.Position+1); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	if err := completeIfDrained(ctx, tx, queueID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("resolve: commit: %w", err)
	}

	item.Status = status
	item.Notes = notes
	return item, nil
}

// BatchApprove approves every pending item whose rule or category contains
// the substring, case-insensitively. An empty substring approves all.
// Returns the approved items in position order.
func (q *Queues) BatchApprove(ctx context.Context, queueID, substring string) ([]*Item, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT queue_id, position, issue, status, notes
		 FROM validation_queue_items
		 WHERE queue_id = $1 AND status = 'pending'
		 ORDER BY position`, queueID)
	if err != nil {
		return nil, fmt.Errorf("batch approve: list: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(substring)
	var matched []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(item.Issue.Rule), needle) ||
			strings.Contains(strings.ToLower(item.Issue.Category), needle) {
			matched = append(matched, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch approve: list: %w", err)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("batch approve: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range matched {
		if _, err := tx.ExecContext(ctx,
			`UPDATE validation_queue_items
			 SET status = 'approved', notes = 'batch approval', resolved_at = now()
			 WHERE queue_id = $1 AND position = $2 AND status = 'pending'`,
			queueID, item.Position); err != nil {
			return nil, fmt.Errorf("batch approve item %d: %w", item.Position, err)
		}
		item.Status = models.IssueApproved
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE validation_queue vq
		 SET current_index = GREATEST(current_index, COALESCE(
		       (SELECT min(position) FROM validation_queue_items
		        WHERE queue_id = vq.id AND status = 'pending'),
		       (SELECT count(*) FROM validation_queue_items WHERE queue_id = vq.id))),
		     awaiting_response = FALSE
		 WHERE id = $1`, queueID); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	if err := completeIfDrained(ctx, tx, queueID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("batch approve: commit: %w", err)
	}

	q.logger.Info("Batch approval",
		"queue_id", queueID, "pattern", substring, "approved", len(matched))
	return matched, nil
}

// BatchApproveAll approves every remaining pending item.
func (q *Queues) BatchApproveAll(ctx context.Context, queueID string) ([]*Item, error) {
	return q.BatchApprove(ctx, queueID, "")
}

// completeIfDrained marks the queue completed when no pending items remain.
func completeIfDrained(ctx context.Context, tx *sql.Tx, queueID string) error {
	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM validation_queue_items
		 WHERE queue_id = $1 AND status = 'pending'`, queueID).Scan(&pending); err != nil {
		return fmt.Errorf("drain check: %w", err)
	}
	if pending > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE validation_queue SET status = 'completed', completed_at = now()
		 WHERE id = $1 AND status = 'active'`, queueID); err != nil {
		return fmt.Errorf("complete queue: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	item := &Item{}
	var raw []byte
	var status string
	err := row.Scan(&item.QueueID, &item.Position, &raw, &status, &item.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNothingPending
	}
	if err != nil {
		return nil, fmt.Errorf("scanning queue item: %w", err)
	}
	item.Status = models.IssueStatus(status)
	item.Issue = &models.Issue{}
	if err := json.Unmarshal(raw, item.Issue); err != nil {
		return nil, fmt.Errorf("decoding queue item issue: %w", err)
	}
	return item, nil
}
