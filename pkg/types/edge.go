package types

import "time"

// Attribute keys recorded on updated edge versions.
const (
	AttrOriginalFact = "original_fact"
	AttrUpdateReason = "update_reason"
)

// EntityEdge is a directed fact between two entity nodes. Edges are
// bitemporal: CreatedAt records when the fact entered the graph,
// ValidAt/InvalidAt bound when it was true in the world, and ExpiredAt
// marks when a newer version superseded it in the record. Updates never
// mutate an edge; they expire it and write a fresh one.
type EntityEdge struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	GroupID string `json:"group_id"`

	SourceNodeUUID string `json:"source_node_uuid"`
	TargetNodeUUID string `json:"target_node_uuid"`

	// Fact is the natural-language statement this edge asserts.
	Fact          string    `json:"fact"`
	FactEmbedding []float32 `json:"fact_embedding,omitempty"`

	// Episodes lists the episodic-node UUIDs that support this fact.
	// It is never empty on a persisted edge and is inherited verbatim
	// by updated versions.
	Episodes []string `json:"episodes"`

	CreatedAt time.Time  `json:"created_at"`
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Attributes carries open update metadata such as original_fact and
	// update_reason.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate checks the edge has all required fields set.
func (e *EntityEdge) Validate() error {
	if e.UUID == "" {
		return ErrEmptyUUID
	}
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// IsCurrent reports whether the edge is a live fact at time t: not
// superseded by a newer version and not yet invalid in the world.
func (e *EntityEdge) IsCurrent(t time.Time) bool {
	if e.ExpiredAt != nil {
		return false
	}
	if e.InvalidAt != nil && !e.InvalidAt.After(t) {
		return false
	}
	return true
}

// CitesEpisode reports whether the edge lists the given episode UUID.
func (e *EntityEdge) CitesEpisode(uuid string) bool {
	for _, ep := range e.Episodes {
		if ep == uuid {
			return true
		}
	}
	return false
}
