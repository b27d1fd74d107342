package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/httpc"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/metrics"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/store"
)

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// relevanceBodyMin is the body size below which relevance refinement is
// skipped; short bodies are not worth a model call.
const relevanceBodyMin = 500

// Dispatcher routes classified filings to their agents, logs each filing
// durably, and marks it seen only after the log row exists. That ordering
// is what makes re-polls idempotent.
type Dispatcher struct {
	registry *Registry
	client   *httpc.Client // nil skips body prefetch
	writer   *store.MonitoredWriter
	db       *sql.DB
	llm      llm.Client // nil skips relevance refinement
	cfg      *config.DispatchConfig
	pcfg     *config.PollerConfig
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry *Registry, client *httpc.Client, writer *store.MonitoredWriter, db *sql.DB, llmClient llm.Client, cfg *config.DispatchConfig, pcfg *config.PollerConfig) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		client:   client,
		writer:   writer,
		db:       db,
		llm:      llmClient,
		cfg:      cfg,
		pcfg:     pcfg,
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// DispatchAll processes filings with bounded parallelism across filings.
// Agents for a single filing always run sequentially.
func (d *Dispatcher) DispatchAll(ctx context.Context, filings []models.Filing) []*models.AgentTask {
	if len(filings) == 0 {
		return nil
	}
	perFiling := make([][]*models.AgentTask, len(filings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.WorkerCount)
	for i := range filings {
		g.Go(func() error {
			perFiling[i] = d.dispatchFiling(gctx, &filings[i])
			return nil
		})
	}
	_ = g.Wait()

	var tasks []*models.AgentTask
	for _, t := range perFiling {
		tasks = append(tasks, t...)
	}
	return tasks
}

// dispatchFiling runs the full per-filing pipeline: fetch-once, relevance
// refinement, sequential agents, durable log, seen marker.
func (d *Dispatcher) dispatchFiling(ctx context.Context, filing *models.Filing) []*models.AgentTask {
	cl := filing.Classification
	if cl == nil {
		d.logger.Error("Filing reached dispatch without classification",
			"filing_id", filing.ID)
		return nil
	}

	d.prefetchBody(ctx, filing)
	agents := d.refineRelevance(ctx, filing, cl.AgentsNeeded)

	tasks := make([]*models.AgentTask, 0, len(agents))
	for _, name := range agents {
		tasks = append(tasks, d.runAgent(ctx, name, filing, cl))
	}

	// The durable filing log is the completion marker. Only after the row
	// exists (or already existed) is the id appended to the seen list; a
	// failed insert means the next poll re-processes this filing.
	if d.logFiling(ctx, filing, cl) {
		if err := d.writer.AppendBounded(ctx, store.NSFilingSeen, filing.Ticker, filing.ID, d.pcfg.SeenCap); err != nil {
			d.logger.Error("Failed to mark filing seen",
				"filing_id", filing.ID, "error", err)
		}
	}
	return tasks
}

// prefetchBody fetches the primary document text once, before any agent
// runs. Fetch failure is not fatal; agents still see the feed metadata.
func (d *Dispatcher) prefetchBody(ctx context.Context, filing *models.Filing) {
	if filing.Body != "" || filing.IndexURL == "" || d.client == nil {
		return
	}
	docURL, err := d.client.ResolvePrimaryDocument(ctx, filing.IndexURL, filing.Type)
	if err != nil {
		d.logger.Warn("Primary document resolution failed",
			"filing_id", filing.ID, "error", err)
		return
	}
	filing.PrimaryDocURL = docURL
	body, err := d.client.FetchText(ctx, docURL, d.pcfg.BodyMaxBytes)
	if err != nil {
		d.logger.Warn("Body prefetch failed",
			"filing_id", filing.ID, "url", docURL, "error", err)
		return
	}
	filing.Body = body

	if exhibits, err := d.client.ExtractExhibits(ctx, filing.IndexURL); err == nil {
		filing.Exhibits = exhibits
	}
}

// refineRelevance asks the model which of the routed agents are actually
// relevant given the body. Subtract-only: an agent is dropped only when the
// model explicitly marks it false. Any failure keeps the full list.
func (d *Dispatcher) refineRelevance(ctx context.Context, filing *models.Filing, agents []string) []string {
	if d.llm == nil || len(agents) < 2 || len(filing.Body) < relevanceBodyMin {
		return agents
	}

	sample := filing.Body
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	prompt := fmt.Sprintf(
		"For this %s filing, decide which processors are relevant.\nTitle: %s\nContent sample:\n%s\n"+
			"Respond with JSON only, mapping each of these names to true or false: %s",
		filing.Type, filing.Title, sample, strings.Join(agents, ", "))

	var relevance map[string]bool
	if err := d.llm.CompleteJSON(ctx, prompt, &relevance); err != nil {
		d.logger.Warn("Relevance refinement failed, keeping all agents",
			"filing_id", filing.ID, "error", err)
		return agents
	}

	var kept []string
	for _, name := range agents {
		if v, ok := relevance[name]; ok && !v {
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

// runAgent executes one agent task with the configured timeout. Failure is
// recorded on the task and never blocks the rest of the filing.
func (d *Dispatcher) runAgent(ctx context.Context, name string, filing *models.Filing, cl *models.Classification) *models.AgentTask {
	task := models.NewTask(name, cl.Priority, models.FilingTaskParams{
		Filing:         filing,
		Classification: cl,
	})

	agent, ok := d.registry.Filing(name)
	if !ok {
		task.Status = models.TaskFailed
		task.Error = fmt.Sprintf("no filing agent registered under %q", name)
		d.logger.Error("Unknown filing agent", "agent", name, "filing_id", filing.ID)
		return task
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	task.Status = models.TaskInProgress
	task.StartedAt = time.Now()
	result, err := agent.Process(taskCtx, filing, cl)
	task.CompletedAt = time.Now()

	if err != nil {
		task.Status = models.TaskFailed
		task.Error = err.Error()
		d.logger.Error("Agent task failed",
			"agent", name, "filing_id", filing.ID, "error", err)
		return task
	}
	task.Status = models.TaskCompleted
	task.Result = result.Summary
	d.logger.Info("Agent task completed",
		"agent", name, "filing_id", filing.ID,
		"duration", task.CompletedAt.Sub(task.StartedAt).Round(time.Millisecond))
	return task
}

// logFiling inserts the filing row. Returns true when the row exists after
// the call, whether inserted now or by an earlier run.
func (d *Dispatcher) logFiling(ctx context.Context, filing *models.Filing, cl *models.Classification) bool {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO filing_events
		 (filing_id, ticker, cik, filing_type, item_number, title, filing_date, url, tag, priority, summary, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		filing.ID, filing.Ticker, filing.CIK, filing.Type, filing.ItemNumber,
		filing.Title, filing.FilingDate, filing.IndexURL, cl.Tag,
		string(cl.Priority), cl.Summary, filing.DetectedAt)
	if err == nil {
		metrics.FilingsLogged.Inc()
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		d.logger.Info("Filing already logged", "filing_id", filing.ID)
		return true
	}
	if strings.Contains(err.Error(), "duplicate key") {
		return true
	}
	d.logger.Error("Filing log insert failed, will re-process on next poll",
		"filing_id", filing.ID, "error", err)
	return false
}
