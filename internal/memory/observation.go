// Package memory is the observation knowledge store: durable agent
// observations with hybrid vector/keyword search, asynchronous embedding
// and a promotion workflow.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups of a single observation id.
var ErrNotFound = errors.New("observation not found")

const (
	TypeWarning   = "warning"
	TypeDecision  = "decision"
	TypeDiscovery = "discovery"
	TypeNote      = "note"

	StatusActive   = "active"
	StatusResolved = "resolved"
)

// ValidType reports whether t is a known observation type.
func ValidType(t string) bool {
	switch t {
	case TypeWarning, TypeDecision, TypeDiscovery, TypeNote:
		return true
	}
	return false
}

type Observation struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"session_id"`
	AgentID         string     `json:"agent_id,omitempty"`
	ProjectID       string     `json:"project_id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	Narrative       string     `json:"narrative,omitempty"`
	Facts           []string   `json:"facts,omitempty"`
	Concepts        []string   `json:"concepts,omitempty"`
	FilesRead       []string   `json:"files_read,omitempty"`
	FilesModified   []string   `json:"files_modified,omitempty"`
	DiscoveryTokens int64      `json:"discovery_tokens"`
	Source          string     `json:"source"`
	Status          string     `json:"status"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	PromotedTo      string     `json:"promoted_to,omitempty"`
	HasEmbedding    bool       `json:"has_embedding"`
	// Distance is the cosine distance to the query; set by vector search only.
	Distance  float64   `json:"distance,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObservationInput is the caller-supplied content of an observation.
type ObservationInput struct {
	Type          string   `json:"type"`
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle,omitempty"`
	Narrative     string   `json:"narrative,omitempty"`
	Facts         []string `json:"facts,omitempty"`
	Concepts      []string `json:"concepts,omitempty"`
	FilesRead     []string `json:"files_read,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
}

func (in *ObservationInput) validate() error {
	if !ValidType(in.Type) {
		return fmt.Errorf("invalid observation type %q", in.Type)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("observation title is required")
	}
	return nil
}

// SaveOptions carries the provenance of a saved observation.
type SaveOptions struct {
	SessionID       string
	AgentID         string
	ProjectID       string
	DiscoveryTokens int64
	Source          string
}

// SearchQuery filters Search. Zero Limit and Days use the service defaults;
// negative Days disables the time window.
type SearchQuery struct {
	ProjectID string
	Query     string
	Type      string
	AgentName string
	Limit     int
	Days      int
}

// PromotionCandidate is a concept shared by enough active observations to
// be worth lifting into durable project knowledge.
type PromotionCandidate struct {
	Concept        string  `json:"concept"`
	ObservationIDs []int64 `json:"observation_ids"`
}
