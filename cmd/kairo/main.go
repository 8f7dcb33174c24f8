// Command kairo runs a demonstration graph against the configured stores.
//
// It wires the full stack the way an embedding application would: config
// from the environment, OTEL telemetry, a task store (Postgres, SQLite, or
// in-memory), a delegation pool, and a checkpointed graph run streamed to
// stdout as JSON events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/kairo"
	"github.com/ashita-ai/kairo/delegate"
	"github.com/ashita-ai/kairo/internal/config"
	"github.com/ashita-ai/kairo/internal/telemetry"
	"github.com/ashita-ai/kairo/store/memory"
	"github.com/ashita-ai/kairo/store/postgres"
	"github.com/ashita-ai/kairo/store/sqlite"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KAIRO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// stores bundles the two persistence interfaces behind one backend.
type stores struct {
	tasks       delegate.TaskStore
	checkpoints kairo.CheckpointStore
	close       func()
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kairo starting", "version", version)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// Workers and executors for the delegation demo.
	researcher := delegate.NewWorker("researcher", 2, []string{"search"}, []string{"research"})
	writer := delegate.NewWorker("writer", 1, []string{"compose"}, []string{"draft"})

	pool := delegate.NewPool(st.tasks, delegate.NewBalancer(),
		[]*delegate.Worker{researcher, writer},
		delegate.CapabilityBased, cfg.PoolConcurrency, logger)
	pool.Register("research", func(ctx context.Context, t delegate.Task, w *delegate.Worker) (map[string]any, error) {
		return map[string]any{"summary": fmt.Sprintf("findings for %v", t.Input["topic"])}, nil
	})
	pool.Register("draft", func(ctx context.Context, t delegate.Task, w *delegate.Worker) (map[string]any, error) {
		return map[string]any{"text": fmt.Sprintf("draft about %v", t.Input["topic"])}, nil
	})

	sup := delegate.NewSupervisor(st.tasks, logger)

	// A small plan-delegate-summarize graph exercising conditional routing
	// and the worker pool.
	b := kairo.NewBuilder()
	_ = b.AddNode("plan", func(ctx context.Context, s kairo.State) (kairo.State, error) {
		s.Values["topic"] = "graph engines"
		return s.AppendMessage("system", "planned"), nil
	})
	_ = b.AddNode("delegate", func(ctx context.Context, s kairo.State) (kairo.State, error) {
		topic, _ := s.Values["topic"].(string)
		ids, err := sup.SubmitTasks(ctx, []delegate.Task{
			{Type: "research", Input: map[string]any{"topic": topic}, RequiredCapability: "research", Priority: 2},
			{Type: "draft", Input: map[string]any{"topic": topic}, RequiredCapability: "draft", Priority: 1},
		})
		if err != nil {
			return s, err
		}
		if err := pool.Run(ctx); err != nil {
			return s, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		outputs := make([]any, 0, len(ids))
		for _, id := range ids {
			res, err := sup.AwaitResult(waitCtx, id, cfg.PollInterval)
			if err != nil {
				return s, err
			}
			outputs = append(outputs, res.Output)
		}
		s.Values["outputs"] = outputs
		return s, nil
	})
	_ = b.AddNode("summarize", func(ctx context.Context, s kairo.State) (kairo.State, error) {
		return s.AppendMessage("assistant", "done"), nil
	})
	_ = b.AddEdge("plan", "delegate")
	b.AddConditionalEdge("delegate", func(ctx context.Context, s kairo.State) string {
		if _, ok := s.Values["outputs"]; ok {
			return "summarize"
		}
		return kairo.End
	})
	_ = b.SetEntryPoint("plan")
	_ = b.AddExitPoint("summarize")

	g, err := b.Compile()
	if err != nil {
		return fmt.Errorf("compile graph: %w", err)
	}

	runID := uuid.New()
	enc := json.NewEncoder(os.Stdout)
	var final kairo.State
	for ev := range g.Stream(ctx, kairo.NewState(),
		kairo.WithMaxSteps(cfg.MaxSteps),
		kairo.WithTimeout(cfg.RunTimeout),
		kairo.WithLogger(logger),
		kairo.WithCheckpointing(st.checkpoints, runID),
	) {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if ev.Type == kairo.EventGraphFailed {
			return fmt.Errorf("run %s: %w", runID, ev.Err)
		}
		final = ev.State
	}

	slog.Info("run complete", "run_id", runID, "steps", final.Step, "last_node", final.CurrentNode)
	return nil
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &stores{tasks: pg, checkpoints: pg, close: pg.Close}, nil
	case cfg.SQLitePath != "":
		db, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{tasks: db, checkpoints: db, close: func() { _ = db.Close() }}, nil
	default:
		mem := memory.New()
		return &stores{tasks: mem, checkpoints: mem, close: func() {}}, nil
	}
}
