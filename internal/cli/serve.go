package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/aide/internal/autonomy"
	"github.com/lazypower/aide/internal/clock"
	"github.com/lazypower/aide/internal/config"
	"github.com/lazypower/aide/internal/executor"
	"github.com/lazypower/aide/internal/executor/builtin"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/interrupt"
	"github.com/lazypower/aide/internal/llm"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/perception"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/server"
	"github.com/lazypower/aide/internal/simulate"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/transparency"
)

const tfidfTerms = 512

func newServeCmd(a *app) *cobra.Command {
	var noStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))

			rt, err := newRuntime(cmd.Context(), cfg, clock.Real{})
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.serve(cmd.Context(), cfg.ListenAddr(), !noStart)
		},
	}
	cmd.Flags().BoolVar(&noStart, "no-start", false, "serve the API but leave the orchestrator stopped")
	return cmd
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runtime is a fully wired aide process.
type runtime struct {
	db      *store.DB
	orch    *orchestrator.Orchestrator
	handler http.Handler
	logger  *slog.Logger
}

func newRuntime(ctx context.Context, cfg *config.Config, clk clock.Clock) (*runtime, error) {
	logger := slog.Default().With("component", "serve")

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database open", "path", dbPath)

	ps := prefs.New(db)
	trans := transparency.New(db, clk)
	gs := goals.New(db).WithClock(clk.Now)

	mem := memory.New(db, nil, memory.Config{
		MinStrength:    cfg.Memory.MinStrength,
		DedupThreshold: cfg.Memory.DedupThreshold,
		RecallLimit:    cfg.Memory.RecallLimit,
		RecencyWindow:  memory.DefaultConfig().RecencyWindow,
	}).WithClock(clk.Now)
	if err := configureEmbedder(ctx, cfg.LLM, db, mem, logger); err != nil {
		db.Close()
		return nil, err
	}

	devices := builtin.NewState(cfg.Orchestrator.Rooms...)
	reg := executor.NewRegistry()
	if err := builtin.RegisterAll(reg, devices, clk); err != nil {
		db.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	var (
		source perception.Source
		static *perception.Static
	)
	if feed := cfg.Orchestrator.PerceptionFeed; feed != "" {
		source = perception.NewFeed(feed, clk)
		logger.Info("perception feed", "path", feed)
	} else {
		static = perception.NewStatic(clk)
		source = static
	}

	icfg := interrupt.DefaultConfig()
	icfg.MaxPerHour = cfg.Interruption.MaxPerHour
	icfg.Cooldown = cfg.Interruption.Cooldown
	icfg.FocusProtection = cfg.Interruption.FocusProtection

	snaps := snapshot.New(snapshot.Config{
		MaxSnapshots: cfg.Snapshot.MaxSnapshots,
		MaxChanges:   cfg.Snapshot.MaxChanges,
	}).WithClock(clk.Now)

	oc := cfg.Orchestrator
	orch, err := orchestrator.New(orchestrator.Config{
		UserID:             oc.UserID,
		PerceptionInterval: oc.PerceptionInterval,
		CognitionInterval:  oc.CognitionInterval,
		ActionInterval:     oc.ActionInterval,
		DecayInterval:      oc.DecayInterval,
		HeartbeatInterval:  oc.HeartbeatInterval,
		SuggestionInterval: oc.SuggestionInterval,
		IntentTTL:          oc.IntentTTL,
		ConfirmationTTL:    oc.ConfirmationTTL,
		QueueLimit:         oc.QueueLimit,
	}, orchestrator.Deps{
		Tools:        reg,
		Simulator:    simulate.New(reg),
		Autonomy:     autonomy.NewEngine(ps, trans, nil).WithClock(clk.Now),
		Goals:        gs,
		Memory:       mem,
		Interrupts:   interrupt.New(icfg, clk),
		Snapshots:    snaps,
		Transparency: trans,
		Perception:   perception.WithDevices(source, devices),
		Prefs:        ps,
		Clock:        clk,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	var plan *planner.Planner
	if client, err := llm.NewClient(cfg.LLM); err != nil {
		if !errors.Is(err, llm.ErrNoProvider) {
			logger.Warn("llm unavailable, planner disabled", "provider", cfg.LLM.Provider, "err", err)
		}
	} else {
		plan = planner.New(client, orch, reg, mem, gs)
		logger.Info("planner enabled", "provider", cfg.LLM.Provider)
	}

	srv := server.New(server.Deps{
		DB:           db,
		Orchestrator: orch,
		Goals:        gs,
		Memory:       mem,
		Transparency: trans,
		Snapshots:    snaps,
		Prefs:        ps,
		World:        static,
		Planner:      plan,
	}, server.Options{
		Version:   VersionString(),
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})

	return &runtime{db: db, orch: orch, handler: srv, logger: logger}, nil
}

// configureEmbedder prefers an Ollama embedding model and falls back to
// TF-IDF over the stored memories, then re-embeds stale vectors.
func configureEmbedder(ctx context.Context, cfg config.LLMConfig, db *store.DB, mem *memory.Service, logger *slog.Logger) error {
	var emb memory.Embedder
	if oe := llm.NewEmbedder(cfg); oe != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := oe.Ping(pingCtx)
		cancel()
		if err == nil {
			emb = oe
		} else {
			logger.Warn("embedding model unavailable, using tfidf", "model", cfg.EmbeddingModel, "err", err)
		}
	}
	if emb == nil {
		tfidf, err := memory.BuildTFIDF(db, tfidfTerms)
		if err != nil {
			return err
		}
		emb = tfidf
	}
	mem.SetEmbedder(emb)
	logger.Info("embedder", "model", emb.Model())

	if n, err := mem.Reembed(ctx); err != nil {
		logger.Warn("re-embed failed", "err", err)
	} else if n > 0 {
		logger.Info("re-embedded memories", "count", n)
	}
	return nil
}

func (rt *runtime) serve(ctx context.Context, addr string, start bool) error {
	if start {
		if err := rt.orch.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           rt.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	errc := make(chan error, 1)
	go func() {
		rt.logger.Info("aide serving", "addr", addr, "version", VersionString())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}
	rt.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	if rt.orch.State() != orchestrator.StateStopped {
		if stopErr := rt.orch.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// Close stops the orchestrator and closes the database.
func (rt *runtime) Close() error {
	if rt.orch.State() != orchestrator.StateStopped {
		_ = rt.orch.Stop()
	}
	return rt.db.Close()
}
