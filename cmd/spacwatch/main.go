// Spacwatch keeps a SPAC portfolio database synchronized with regulatory
// filings, prices, and news, and surfaces anomalies to an operator over
// chat. One binary covers the continuous service and the one-shot
// operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spacwatch/spacwatch/pkg/agents"
	"github.com/spacwatch/spacwatch/pkg/api"
	"github.com/spacwatch/spacwatch/pkg/app"
	"github.com/spacwatch/spacwatch/pkg/chat"
	"github.com/spacwatch/spacwatch/pkg/classifier"
	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/database"
	"github.com/spacwatch/spacwatch/pkg/fixes"
	"github.com/spacwatch/spacwatch/pkg/httpc"
	"github.com/spacwatch/spacwatch/pkg/improve"
	"github.com/spacwatch/spacwatch/pkg/llm"
	"github.com/spacwatch/spacwatch/pkg/poller"
	"github.com/spacwatch/spacwatch/pkg/prices"
	"github.com/spacwatch/spacwatch/pkg/repo"
	"github.com/spacwatch/spacwatch/pkg/review"
	"github.com/spacwatch/spacwatch/pkg/scheduler"
	"github.com/spacwatch/spacwatch/pkg/store"
	"github.com/spacwatch/spacwatch/pkg/validation"
	"github.com/spacwatch/spacwatch/pkg/version"
)

// errUnhealthy maps to exit code 2: the process came up but a required
// service is unreachable.
var errUnhealthy = errors.New("unhealthy service")

var (
	configPath string
	envPath    string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, errUnhealthy) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spacwatch",
		Short:         "SPAC portfolio monitoring orchestrator",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "spacwatch.yaml", "path to the configuration file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to the environment file")

	root.AddCommand(newRunCmd(), newValidateCmd(), newMonitorCmd(),
		newTestChatCmd(), newEnrichCmd(), newDigestCmd())
	return root
}

// runtime holds the wired component graph for one invocation.
type runtime struct {
	cfg       *config.Config
	db        *database.Client
	store     *store.Store
	repo      *repo.Repository
	transport chat.Transport // nil when chat is unconfigured
	notifier  *chat.Notifier // nil when chat is unconfigured
	llm       llm.Client     // nil when no API key is set
	registry  *agents.Registry
	pipeline  *app.Pipeline
	queues    *review.Queues
	reviewer  *review.Reviewer // nil when chat is unconfigured
	tracker   *improve.Tracker
	sweeper   *app.Sweeper
	servicer  *app.Servicer // nil when chat is unconfigured
	scheduler *scheduler.Scheduler
	api       *api.Server
}

func (r *runtime) close() {
	if err := r.db.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
	}
}

// setup loads configuration, connects the database, and wires every
// component. Optional collaborators (chat, LLM) degrade to nil rather than
// failing startup; the database is required.
func setup(ctx context.Context) (*runtime, error) {
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No environment file loaded", "path", envPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: database: %v", errUnhealthy, err)
	}

	rt := &runtime{cfg: cfg, db: db}
	rt.store = store.New(db.DB())
	rt.repo = repo.New(db.DB())
	rt.queues = review.NewQueues(db.DB())

	if transport, err := chat.NewSlackTransport(cfg.Chat, rt.store); err != nil {
		slog.Warn("Chat disabled", "reason", err)
	} else {
		rt.transport = transport
		rt.notifier = chat.NewNotifier(transport, rt.store, cfg.Alerts)
	}

	if model, err := llm.New(cfg.LLM, int64(cfg.Scheduler.MaxLLMConcurrency)); err != nil {
		slog.Warn("LLM disabled, running rules-only", "reason", err)
	} else {
		rt.llm = model
	}

	var alertFn store.AlertFunc
	var notify agents.NotifyPort
	var sender agents.Sender
	var improveSender improve.Sender
	if rt.notifier != nil {
		alertFn = rt.notifier.AlertFunc()
		notify = rt.notifier
		sender = rt.transport
		improveSender = rt.transport
	}

	writer := store.NewMonitoredWriter(rt.store,
		[]string{store.NSFilingSeen, store.NSFilingCursor, store.NSQueueActive},
		cfg.Alerts.WriteFailureThreshold, cfg.Alerts.WriteFailureWindow, alertFn)

	httpClient, err := httpc.New(cfg.HTTP)
	if err != nil {
		return nil, err
	}

	applier := fixes.NewApplier(rt.repo)
	rt.tracker = improve.NewTracker(db.DB(), rt.llm, improveSender, cfg.Improve)

	var research validation.ResearchPort
	if rt.llm != nil {
		research = app.NewResearch(rt.llm)
	}
	engine := validation.New(cfg.Validation, research, nil)

	if rt.transport != nil {
		rt.reviewer = review.NewReviewer(rt.queues, rt.transport, applier, rt.llm, db.DB())
	}
	var starter app.ReviewStarter
	if rt.reviewer != nil {
		starter = rt.reviewer
	}
	rt.sweeper = app.NewSweeper(rt.repo, engine, applier, starter, rt.tracker)

	rt.registry = agents.NewRegistry()
	if err := agents.RegisterBuiltins(rt.registry, rt.repo, notify, sender,
		prices.NewStaticSource(), app.NewScheduledSweep(rt.sweeper)); err != nil {
		return nil, err
	}

	pollr := poller.New(httpClient, rt.store, cfg.Poller, alertFn)
	clsf := classifier.New(rt.llm, cfg.LLM)
	dispatcher := agents.NewDispatcher(rt.registry, httpClient, writer, db.DB(),
		rt.llm, cfg.Dispatch, cfg.Poller)
	rt.pipeline = app.NewPipeline(rt.repo, pollr, clsf, dispatcher)

	var servicer scheduler.QueueServicer
	if rt.transport != nil && rt.reviewer != nil {
		rt.servicer = app.NewServicer(rt.transport, rt.reviewer, rt.tracker)
		servicer = rt.servicer
	}
	rt.scheduler, err = scheduler.New(cfg.Scheduler, rt.store, rt.registry,
		rt.pipeline, servicer, rt.repo, rt.llm)
	if err != nil {
		return nil, err
	}

	if cfg.API.Enabled {
		rt.api = api.NewServer(db, rt.store, rt.queues, rt.scheduler, rt.repo, cfg.API)
	}

	slog.Info("Spacwatch initialized",
		"version", version.Full(),
		"chat", rt.transport != nil,
		"llm", rt.llm != nil,
		"api", rt.api != nil)
	return rt, nil
}

func newRunCmd() *cobra.Command {
	var continuous bool
	var intervalSec int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduler tick, or the continuous loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if intervalSec > 0 {
				rt.cfg.Scheduler.TickInterval = time.Duration(intervalSec) * time.Second
			}
			if !continuous {
				return rt.scheduler.Tick(ctx)
			}
			// The continuous service is useless without its operator channel.
			if rt.transport == nil {
				return fmt.Errorf("chat transport is required in continuous mode (set %s and %s)",
					rt.cfg.Chat.TokenEnv, rt.cfg.Chat.ChannelEnv)
			}

			if rt.api != nil {
				go func() {
					if err := rt.api.Run(ctx); err != nil {
						slog.Error("API server failed", "error", err)
					}
				}()
			}

			// First signal finishes the current tick; a second aborts it.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("Shutdown requested, finishing current tick")
				rt.scheduler.Stop()
				<-sigCh
				slog.Warn("Second signal, aborting")
				cancel()
			}()

			return rt.scheduler.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&continuous, "continuous", false, "run the scheduler loop until interrupted")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "tick interval in seconds (continuous mode)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var autoFix bool
	var ticker string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run one validation sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.sweeper.Run(cmd.Context(), app.SweepOptions{
				AutoFix: autoFix,
				Ticker:  ticker,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d entities: %d issues, %d auto-fixed, %d queued for review\n",
				result.Entities, result.Issues, result.AutoFixed, result.Queued)
			if result.QueueID != "" {
				fmt.Printf("Review queue %s opened\n", result.QueueID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoFix, "auto-fix", false, "apply high-confidence template fixes")
	cmd.Flags().StringVar(&ticker, "ticker", "", "restrict the sweep to one ticker")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	var continuous bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the filing poll-classify-dispatch pipeline standalone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if !continuous {
				return rt.pipeline.SyncFilings(ctx)
			}
			for {
				if err := rt.pipeline.SyncFilings(ctx); err != nil {
					slog.Error("Filing sync failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(rt.cfg.Scheduler.FilingPollInterval):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&continuous, "continuous", false, "poll until interrupted")
	return cmd
}

func newTestChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-chat",
		Short: "Send a canned message over the chat transport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.transport == nil {
				return fmt.Errorf("%w: chat transport not configured", errUnhealthy)
			}
			msg := fmt.Sprintf("👋 %s test message at %s",
				version.Full(), time.Now().UTC().Format(time.RFC3339))
			if err := rt.transport.Send(cmd.Context(), msg); err != nil {
				return fmt.Errorf("%w: chat send failed: %v", errUnhealthy, err)
			}
			fmt.Println("Message sent.")
			return nil
		},
	}
}

// newAgentCmd builds a one-shot command around a scheduled agent slot.
func newAgentCmd(use, short, agentName string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			agent, ok := rt.registry.Scheduled(agentName)
			if !ok {
				return fmt.Errorf("agent %q not registered", agentName)
			}
			result, err := agent.Run(cmd.Context())
			if err != nil {
				return err
			}
			if result.Summary != "" {
				fmt.Println(result.Summary)
			}
			return nil
		},
	}
}

func newEnrichCmd() *cobra.Command {
	return newAgentCmd("enrich", "Run the weekly enrichment pass once", agents.AgentWeeklyEnrichment)
}

func newDigestCmd() *cobra.Command {
	return newAgentCmd("digest", "Send the daily digest now", agents.AgentDailyDigest)
}
