package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Backfill embeds up to batch observations that still lack an embedding.
// Rows with a job already in flight are skipped. It returns how many rows
// received a vector.
func (s *Service) Backfill(ctx context.Context, batch int) (int, error) {
	if !s.embedder.Enabled() {
		return 0, nil
	}
	if batch <= 0 {
		batch = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM observations
		WHERE embedding IS NULL AND promoted_to IS NULL
		ORDER BY id LIMIT ?`, batch)
	if err != nil {
		return 0, fmt.Errorf("select backfill rows: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	embedded := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return embedded, ctx.Err()
		}
		if !s.acquire(id) {
			continue
		}
		ok, err := s.embedObservation(ctx, id)
		s.release(id)
		if err != nil {
			slog.Debug("Backfill embedding failed", "id", id, "error", err)
			continue
		}
		if ok {
			embedded++
		}
	}
	return embedded, nil
}

// BackfillerConfig holds configuration for the Backfiller.
type BackfillerConfig struct {
	Interval  time.Duration // default: 5m
	BatchSize int           // default: 50
}

// Backfiller periodically embeds observations whose inline embedding
// failed or was skipped.
type Backfiller struct {
	service  *Service
	config   BackfillerConfig
	stopOnce sync.Once
	done     chan struct{}
}

func NewBackfiller(service *Service, cfg BackfillerConfig) *Backfiller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Backfiller{service: service, config: cfg, done: make(chan struct{})}
}

// Run sweeps once immediately and then on every interval. Blocks until ctx
// is cancelled.
func (b *Backfiller) Run(ctx context.Context) {
	defer b.stopOnce.Do(func() { close(b.done) })
	if b.service == nil || !b.service.EmbeddingEnabled() {
		return
	}

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	b.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

func (b *Backfiller) sweep(ctx context.Context) {
	n, err := b.service.Backfill(ctx, b.config.BatchSize)
	if err != nil && ctx.Err() == nil {
		slog.Warn("Embedding backfill failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Embedding backfill", "embedded", n)
	}
}

// Stop waits for Run to return (after ctx cancel).
func (b *Backfiller) Stop() {
	<-b.done
}
