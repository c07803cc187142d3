package hooks

import (
	"context"
	"log/slog"
)

// SweepStaleAgents force-completes agents that have been active longer
// than StaleAgentAfter and broadcasts agents_swept when any were found.
func (in *Ingestor) SweepStaleAgents(ctx context.Context) (int, error) {
	cutoff := in.store.Now().Add(-in.cfg.StaleAgentAfter)
	swept, err := in.store.CompleteStaleAgents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(swept) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(swept))
	for _, a := range swept {
		ids = append(ids, a.ID)
	}
	slog.Info("Swept stale agents", "count", len(swept), "cutoff", cutoff)
	in.broadcast("agents_swept", map[string]any{
		"count":     len(swept),
		"agent_ids": ids,
	})
	return len(swept), nil
}
