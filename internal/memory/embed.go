package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/KafClaw/hivemind/internal/store"
)

// acquire adds id to the in-flight set. It returns false if a job for id
// is already running.
func (s *Service) acquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// scheduleEmbedding starts a background embedding job for id unless one is
// already running. A running job notices content changes itself.
func (s *Service) scheduleEmbedding(id int64) bool {
	if !s.embedder.Enabled() {
		return false
	}
	if !s.acquire(id) {
		slog.Debug("Embedding already in flight", "id", id)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for s.runEmbedding(id) {
			slog.Debug("Observation changed after embedding, re-embedding", "id", id)
		}
	}()
	return true
}

// runEmbedding embeds id, releases it and reports whether it was
// re-acquired because the row changed in between. An update that lands
// while id is held skips its own scheduling, so the check runs after
// release.
func (s *Service) runEmbedding(id int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EmbedTimeout)
	defer cancel()
	_, err := s.embedObservation(ctx, id)
	s.release(id)
	if err != nil {
		slog.Warn("Observation embedding deferred to backfill", "id", id, "error", err)
		return false
	}
	_, _, done, err := s.loadEmbeddingInput(ctx, id)
	if err != nil || done {
		return false
	}
	return s.acquire(id)
}

// embedObservation computes and stores the embedding for id. The write is
// conditioned on embedding_hash so a vector computed from stale text never
// lands; in that case the current text is embedded instead. The caller
// must hold id in the in-flight set.
func (s *Service) embedObservation(ctx context.Context, id int64) (bool, error) {
	for pass := 0; pass < maxHashPasses; pass++ {
		text, hash, done, err := s.loadEmbeddingInput(ctx, id)
		if err != nil {
			return false, err
		}
		if done {
			return false, nil
		}

		vec := s.embedder.Embed(ctx, text)
		if vec == nil {
			vec = s.embedder.Embed(ctx, text)
		}
		if vec == nil {
			return false, fmt.Errorf("embedder returned no vector")
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE observations SET embedding = ? WHERE id = ? AND embedding_hash = ?`,
			encodeFloat32s(vec), id, hash)
		if err != nil {
			return false, fmt.Errorf("store embedding: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if s.stored != nil {
				s.stored(id)
			}
			return true, nil
		}
		slog.Debug("Observation changed while embedding, retrying", "id", id, "pass", pass+1)
	}
	return false, fmt.Errorf("observation %d kept changing while embedding", id)
}

// loadEmbeddingInput reads the text to embed for id. done is true when the
// row is gone or already carries an embedding for its current text.
func (s *Service) loadEmbeddingInput(ctx context.Context, id int64) (text, hash string, done bool, err error) {
	var title, narrative, storedHash string
	var concepts sql.NullString
	var hasEmbedding bool
	err = s.db.QueryRowContext(ctx, `
		SELECT title, COALESCE(narrative, ''), concepts, embedding_hash, embedding IS NOT NULL
		FROM observations WHERE id = ?`, id,
	).Scan(&title, &narrative, &concepts, &storedHash, &hasEmbedding)
	if err == sql.ErrNoRows {
		return "", "", true, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("load observation %d: %w", id, err)
	}
	text = BuildEmbeddingText(title, narrative, store.DecodeList(concepts))
	hash = embeddingHash(text)
	if hasEmbedding && hash == storedHash {
		return "", "", true, nil
	}
	if hash != storedHash {
		// Rows written before hashing existed, or by another writer.
		if _, err := s.db.ExecContext(ctx,
			`UPDATE observations SET embedding_hash = ?, embedding = NULL WHERE id = ? AND embedding_hash = ?`,
			hash, id, storedHash); err != nil {
			return "", "", false, fmt.Errorf("refresh embedding hash: %w", err)
		}
	}
	return text, hash, false, nil
}
