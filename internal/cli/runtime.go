package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/KafClaw/hivemind/internal/broadcast"
	"github.com/KafClaw/hivemind/internal/config"
	"github.com/KafClaw/hivemind/internal/contextengine"
	"github.com/KafClaw/hivemind/internal/hooks"
	"github.com/KafClaw/hivemind/internal/memory"
	"github.com/KafClaw/hivemind/internal/store"
)

// runtime holds the wired services shared by serve and the memory commands.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	memory   *memory.Service
	hub      *broadcast.Hub
	engine   *contextengine.Engine
	ingestor *hooks.Ingestor
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openRuntime opens the database and wires every service. Only a store
// failure is returned; a missing embedder degrades to text search.
func openRuntime(cfg *config.Config) (*runtime, error) {
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}

	emb, source := resolveMemoryEmbedder(cfg)
	if emb == nil {
		slog.Info("Memory embeddings disabled", "reason", source)
	} else {
		slog.Info("Memory embeddings enabled", "source", source, "model", cfg.Memory.Embedding.Model)
	}
	mem := memory.NewService(st, emb, memory.Options{
		SearchLimit:         cfg.Memory.SearchLimit,
		SearchDays:          cfg.Memory.SearchDays,
		PromotionMinCluster: cfg.Memory.PromotionMinCluster,
		EmbedTimeout:        cfg.Memory.Embedding.Timeout.Duration,
	})

	hub := broadcast.NewHub(cfg.Broadcast.PingInterval.Duration)
	engine := contextengine.NewEngine(st, contextengine.Limits{
		RecentEntries:   cfg.Context.RecentEntries,
		RelevantEntries: cfg.Context.RelevantEntries,
		AgentHistory:    cfg.Context.AgentHistory,
		CrossSession:    cfg.Context.CrossSession,
		Decisions:       cfg.Context.Decisions,
		SummaryChars:    cfg.Context.SummaryChars,
	})
	in := hooks.NewIngestor(st, engine, mem, hub, hooks.Config{
		ContextTimeout:   cfg.Hooks.ContextTimeout.Duration,
		StaleAgentAfter:  cfg.Hooks.StaleAgentAfter.Duration,
		AutoEndSession:   cfg.Hooks.AutoEndSession,
		TranscriptSettle: cfg.Hooks.TranscriptSettle.Duration,
	})

	return &runtime{
		cfg:      cfg,
		store:    st,
		memory:   mem,
		hub:      hub,
		engine:   engine,
		ingestor: in,
	}, nil
}

// Close waits for background work and closes the database.
func (rt *runtime) Close() error {
	rt.ingestor.Wait()
	rt.memory.Wait()
	return rt.store.Close()
}
