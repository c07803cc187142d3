package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/hivemind/internal/store"
)

// Options tunes the service. Zero values use the defaults below.
type Options struct {
	SearchLimit         int
	SearchDays          int
	PromotionMinCluster int
	EmbedTimeout        time.Duration
}

const (
	defaultSearchLimit         = 20
	defaultSearchDays          = 90
	defaultPromotionMinCluster = 3
	// maxHashPasses bounds how often one job re-embeds a row whose text
	// changed while it was embedding.
	maxHashPasses = 3
)

// Service owns the observations table.
type Service struct {
	store    *store.Store
	db       *sql.DB
	embedder Embedder
	opts     Options

	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup

	// stored, when set, runs after an embedding write lands.
	stored func(id int64)
}

// NewService creates a Service. A nil embedder disables vector search and
// background embedding.
func NewService(st *store.Store, embedder Embedder, opts Options) *Service {
	if embedder == nil {
		embedder = disabledEmbedder{}
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.SearchDays == 0 {
		opts.SearchDays = defaultSearchDays
	}
	if opts.PromotionMinCluster <= 0 {
		opts.PromotionMinCluster = defaultPromotionMinCluster
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = time.Minute
	}
	return &Service{
		store:    st,
		db:       st.DB(),
		embedder: embedder,
		opts:     opts,
		inflight: make(map[int64]struct{}),
	}
}

// EmbeddingEnabled reports whether an embedder is configured.
func (s *Service) EmbeddingEnabled() bool {
	return s.embedder.Enabled()
}

// Save inserts an observation, flushes the WAL and schedules embedding in
// the background. It returns without waiting for the embedding.
func (s *Service) Save(ctx context.Context, in ObservationInput, opts SaveOptions) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}
	if opts.SessionID == "" {
		return 0, fmt.Errorf("save observation: session id is required")
	}
	now := store.FormatTime(s.store.Now())
	hash := embeddingHash(BuildEmbeddingText(in.Title, in.Narrative, in.Concepts))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (session_id, agent_id, project_id, type, title, subtitle, narrative,
			facts, concepts, files_read, files_modified, discovery_tokens, source, status,
			embedding_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?)`,
		opts.SessionID, store.NullString(opts.AgentID), opts.ProjectID, in.Type, in.Title,
		store.NullString(in.Subtitle), store.NullString(in.Narrative),
		store.EncodeList(in.Facts), store.EncodeList(in.Concepts),
		store.EncodeList(in.FilesRead), store.EncodeList(in.FilesModified),
		opts.DiscoveryTokens, opts.Source, hash, now, now)
	if err != nil {
		return 0, fmt.Errorf("save observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save observation id: %w", err)
	}

	if err := s.store.Checkpoint(ctx); err != nil {
		slog.Warn("WAL checkpoint after observation save failed", "id", id, "error", err)
	}

	s.scheduleEmbedding(id)
	return id, nil
}

// Update rewrites the content of an observation. The stored embedding is
// cleared and recomputed in the background.
func (s *Service) Update(ctx context.Context, id int64, in ObservationInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	hash := embeddingHash(BuildEmbeddingText(in.Title, in.Narrative, in.Concepts))
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations SET type = ?, title = ?, subtitle = ?, narrative = ?, facts = ?,
			concepts = ?, files_read = ?, files_modified = ?, embedding = NULL,
			embedding_hash = ?, updated_at = ?
		WHERE id = ?`,
		in.Type, in.Title, store.NullString(in.Subtitle), store.NullString(in.Narrative),
		store.EncodeList(in.Facts), store.EncodeList(in.Concepts),
		store.EncodeList(in.FilesRead), store.EncodeList(in.FilesModified),
		hash, store.FormatTime(s.store.Now()), id)
	if err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.scheduleEmbedding(id)
	return nil
}

// Get returns one observation, promoted or not.
func (s *Service) Get(ctx context.Context, id int64) (*Observation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations o WHERE o.id = ?`, id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return o, nil
}

// GetDetails returns the observations for ids in the order given. Unknown
// ids are skipped.
func (s *Service) GetDetails(ctx context.Context, ids []int64) ([]Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations o WHERE o.id IN (`+store.Placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get observation details: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Observation, len(ids))
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		byID[o.ID] = *o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Observation, 0, len(byID))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
			delete(byID, id)
		}
	}
	return out, nil
}

// Timeline returns the observations around anchorID in its session,
// ordered by (created_at, id). The earlier side holds up to before rows
// plus the anchor; the later side holds up to after rows.
func (s *Service) Timeline(ctx context.Context, anchorID int64, before, after int) ([]Observation, error) {
	anchor, err := s.Get(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	at := store.FormatTime(anchor.CreatedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations o
		WHERE o.session_id = ? AND (o.created_at < ? OR (o.created_at = ? AND o.id <= ?))
		ORDER BY o.created_at DESC, o.id DESC LIMIT ?`,
		anchor.SessionID, at, at, anchor.ID, before+1)
	if err != nil {
		return nil, fmt.Errorf("timeline before: %w", err)
	}
	earlier, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}

	var later []Observation
	if after > 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations o
			WHERE o.session_id = ? AND (o.created_at > ? OR (o.created_at = ? AND o.id > ?))
			ORDER BY o.created_at ASC, o.id ASC LIMIT ?`,
			anchor.SessionID, at, at, anchor.ID, after)
		if err != nil {
			return nil, fmt.Errorf("timeline after: %w", err)
		}
		later, err = scanObservations(rows)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Observation, 0, len(earlier)+len(later))
	for i := len(earlier) - 1; i >= 0; i-- {
		out = append(out, earlier[i])
	}
	return append(out, later...), nil
}

// MarkAsPromoted latches promoted_to on rows that are not yet promoted and
// returns how many changed. Promoted rows drop out of Search.
func (s *Service) MarkAsPromoted(ctx context.Context, ids []int64, promotedTo string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if promotedTo == "" {
		return 0, fmt.Errorf("mark as promoted: empty target")
	}
	args := []any{promotedTo, store.FormatTime(s.store.Now())}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations SET promoted_to = ?, updated_at = ?
		WHERE promoted_to IS NULL AND id IN (`+store.Placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark as promoted: %w", err)
	}
	return res.RowsAffected()
}

// Resolve moves an active observation to resolved. It reports false when
// the row was already resolved or does not exist.
func (s *Service) Resolve(ctx context.Context, id int64) (bool, error) {
	now := store.FormatTime(s.store.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE observations SET status = 'resolved', resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`, now, now, id)
	if err != nil {
		return false, fmt.Errorf("resolve observation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InFlight returns the number of embedding jobs currently running.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Wait blocks until every background embedding job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

const observationColumns = `o.id, o.session_id, COALESCE(o.agent_id, ''), o.project_id, o.type, o.title,
	COALESCE(o.subtitle, ''), COALESCE(o.narrative, ''), o.facts, o.concepts, o.files_read,
	o.files_modified, o.discovery_tokens, o.source, o.status, o.resolved_at,
	COALESCE(o.promoted_to, ''), o.embedding IS NOT NULL, o.created_at, o.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(r rowScanner, extra ...any) (*Observation, error) {
	var o Observation
	var facts, concepts, filesRead, filesModified sql.NullString
	var resolved, created, updated store.NullTime
	dest := []any{&o.ID, &o.SessionID, &o.AgentID, &o.ProjectID, &o.Type, &o.Title,
		&o.Subtitle, &o.Narrative, &facts, &concepts, &filesRead,
		&filesModified, &o.DiscoveryTokens, &o.Source, &o.Status, &resolved,
		&o.PromotedTo, &o.HasEmbedding, &created, &updated}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	o.Facts = store.DecodeList(facts)
	o.Concepts = store.DecodeList(concepts)
	o.FilesRead = store.DecodeList(filesRead)
	o.FilesModified = store.DecodeList(filesModified)
	o.ResolvedAt = resolved.Ptr()
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	return &o, nil
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
