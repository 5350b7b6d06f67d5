package types

import "time"

// EpisodicNode is one ingested event: the unit of provenance. Episodes
// are immutable once written; deleting one cascades to its MENTIONS
// links and any entities no other episode supports.
type EpisodicNode struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Content string `json:"content"`
	GroupID string `json:"group_id"`

	Source            EpisodeSource `json:"source"`
	SourceDescription string        `json:"source_description,omitempty"`
	// SourceURL is the first-class origin link. Older rows only carry it
	// inside SourceDescription ("source_url: <url>"); citation resolution
	// falls back to parsing that convention.
	SourceURL string `json:"source_url,omitempty"`

	// CreatedAt is ingest time; ValidAt is event time and may be backdated.
	CreatedAt time.Time `json:"created_at"`
	ValidAt   time.Time `json:"valid_at"`
}

// Validate checks the episodic node has all required fields set.
func (n *EpisodicNode) Validate() error {
	if n.UUID == "" {
		return ErrEmptyUUID
	}
	if n.Name == "" {
		return ErrEmptyName
	}
	if n.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// EntityNode is a deduplicated real-world referent extracted from one or
// more episodes. Entities are never mutated in place except for summary
// enrichment, and are never auto-deleted.
type EntityNode struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
	Summary string `json:"summary,omitempty"`

	// Labels holds optional type tags from the configured entity schema.
	Labels []string `json:"labels,omitempty"`
	// Attributes is an open key/value bag of extracted properties.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	NameEmbedding []float32 `json:"name_embedding,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Validate checks the entity node has all required fields set.
func (n *EntityNode) Validate() error {
	if n.UUID == "" {
		return ErrEmptyUUID
	}
	if n.Name == "" {
		return ErrEmptyName
	}
	if n.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}
