package memory

import (
	"context"
	"fmt"
	"sort"
)

// PromotionCandidates groups the active, unpromoted observations of a
// project by concept and returns concepts shared by at least
// PromotionMinCluster observations, largest clusters first.
func (s *Service) PromotionCandidates(ctx context.Context, projectID string) ([]PromotionCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT je.value, o.id
		FROM observations o, json_each(o.concepts) je
		WHERE o.project_id = ? AND o.status = 'active' AND o.promoted_to IS NULL
		ORDER BY o.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("promotion candidates: %w", err)
	}
	defer rows.Close()

	clusters := make(map[string][]int64)
	for rows.Next() {
		var concept string
		var id int64
		if err := rows.Scan(&concept, &id); err != nil {
			return nil, fmt.Errorf("scan promotion candidate: %w", err)
		}
		ids := clusters[concept]
		if len(ids) > 0 && ids[len(ids)-1] == id {
			continue
		}
		clusters[concept] = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []PromotionCandidate
	for concept, ids := range clusters {
		if len(ids) >= s.opts.PromotionMinCluster {
			out = append(out, PromotionCandidate{Concept: concept, ObservationIDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ObservationIDs) != len(out[j].ObservationIDs) {
			return len(out[i].ObservationIDs) > len(out[j].ObservationIDs)
		}
		return out[i].Concept < out[j].Concept
	})
	return out, nil
}
