package types

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrEmptyName    = errors.New("name cannot be empty")
	ErrEmptyGroupID = errors.New("group_id cannot be empty")
	ErrEmptyUUID    = errors.New("uuid cannot be empty")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrEmptyQuery   = errors.New("query cannot be empty")
	ErrInvalidLimit = errors.New("limit must be positive")
)

// EpisodeSource identifies the shape of an episode body.
type EpisodeSource string

const (
	SourceText    EpisodeSource = "text"
	SourceMessage EpisodeSource = "message"
	SourceJSON    EpisodeSource = "json"
)

// ParseEpisodeSource maps a request string onto a known source type,
// falling back to text for anything unrecognised.
func ParseEpisodeSource(s string) EpisodeSource {
	switch EpisodeSource(s) {
	case SourceText, SourceMessage, SourceJSON:
		return EpisodeSource(s)
	default:
		return SourceText
	}
}

// EpisodeSubmission is the caller-facing description of an episode to
// ingest. UUID is optional; supplying one makes re-submission idempotent.
type EpisodeSubmission struct {
	UUID              string        `json:"uuid,omitempty"`
	Name              string        `json:"name"`
	Content           string        `json:"content"`
	Source            EpisodeSource `json:"source"`
	SourceDescription string        `json:"source_description,omitempty"`
	SourceURL         string        `json:"source_url,omitempty"`
	GroupID           string        `json:"group_id"`
	// ValidAt is the event time. Nil means "use ingest time".
	ValidAt *time.Time `json:"valid_at,omitempty"`
}

// Validate checks the submission has all required fields set.
func (s *EpisodeSubmission) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if s.Content == "" {
		return ErrEmptyContent
	}
	if s.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// EntityTypeDef describes one custom entity type for schema-constrained
// extraction. The set of definitions comes from configuration.
type EntityTypeDef struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
}

// Citation points a fact or entity back at one supporting episode.
type Citation struct {
	EpisodeUUID       string    `json:"episode_uuid"`
	EpisodeName       string    `json:"episode_name"`
	Source            string    `json:"source"`
	SourceDescription string    `json:"source_description"`
	SourceURL         string    `json:"source_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CitationOperation classifies an episode's role in a citation chain.
type CitationOperation string

const (
	CitationCreated    CitationOperation = "created"
	CitationUpdated    CitationOperation = "updated"
	CitationReferenced CitationOperation = "referenced"
)

// CitationChainEntry is one step of the chronological citation chain for
// an entity or edge.
type CitationChainEntry struct {
	Citation
	Operation CitationOperation `json:"operation"`
}
