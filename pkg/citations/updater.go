package citations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// updaterStore is the slice of the graph driver the updater needs.
type updaterStore interface {
	driver.EpisodeStore
	driver.EntityStore
	driver.EdgeStore
	driver.MentionStore
}

// UpdateResult reports a completed fact update.
type UpdateResult struct {
	OldUUID   string            `json:"old_uuid"`
	NewUUID   string            `json:"new_uuid"`
	Edge      *types.EntityEdge `json:"edge"`
	Citations []types.Citation  `json:"citations"`
}

// Updater implements the fact update protocol: expire the old edge
// version in place, create a successor that inherits its citations.
type Updater struct {
	store    updaterStore
	embedder embedder.Client
	resolver *Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewUpdater builds an Updater.
func NewUpdater(store updaterStore, embedderClient embedder.Client, resolver *Resolver, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		store:    store,
		embedder: embedderClient,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpdateRequest describes a fact update. Fact is the replacement text;
// everything else is optional. SourceNodeUUID and TargetNodeUUID move
// the successor onto different endpoints; when empty the old edge's
// endpoints carry over. Attributes are merged onto the successor's
// attribute map before the provenance keys are written.
type UpdateRequest struct {
	Fact           string
	UpdateReason   string
	EpisodeUUID    string
	ValidAt        *time.Time
	SourceNodeUUID string
	TargetNodeUUID string
	Attributes     map[string]any
}

// UpdateFact supersedes the edge's fact text with req.Fact. The old edge
// version is expired with a direct property update so its embedding
// survives; the successor inherits the citation list and records the
// old fact and the caller's reason in its attributes.
//
// A non-nil ValidAt marks when the new fact became true; the old edge
// then also gets invalid_at = ValidAt, closing its validity interval.
// With a nil ValidAt the old edge keeps invalid_at null: it was
// superseded as a record, not contradicted in the world.
func (u *Updater) UpdateFact(ctx context.Context, edgeUUID string, req UpdateRequest) (*UpdateResult, error) {
	oldEdge, err := u.store.GetEdge(ctx, edgeUUID)
	if err != nil {
		return nil, err
	}

	now := u.now()
	if err := u.store.ExpireEdge(ctx, oldEdge.UUID, now); err != nil {
		return nil, err
	}
	if req.ValidAt != nil {
		if err := u.store.InvalidateEdge(ctx, oldEdge.UUID, *req.ValidAt); err != nil {
			return nil, err
		}
	}

	vector, err := u.embedder.EmbedSingle(ctx, req.Fact)
	if err != nil {
		return nil, fmt.Errorf("embed updated fact: %w", err)
	}

	episodes := append([]string(nil), oldEdge.Episodes...)
	if req.EpisodeUUID != "" && !contains(episodes, req.EpisodeUUID) {
		episodes = append(episodes, req.EpisodeUUID)
	}

	attrs := make(map[string]any, len(req.Attributes)+2)
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	attrs[types.AttrOriginalFact] = oldEdge.Fact
	if req.UpdateReason != "" {
		attrs[types.AttrUpdateReason] = req.UpdateReason
	}

	sourceUUID := oldEdge.SourceNodeUUID
	if req.SourceNodeUUID != "" {
		sourceUUID = req.SourceNodeUUID
	}
	targetUUID := oldEdge.TargetNodeUUID
	if req.TargetNodeUUID != "" {
		targetUUID = req.TargetNodeUUID
	}

	newValidAt := now
	if req.ValidAt != nil {
		newValidAt = req.ValidAt.UTC()
	}
	newEdge := &types.EntityEdge{
		UUID:           uuid.New().String(),
		Name:           oldEdge.Name,
		GroupID:        oldEdge.GroupID,
		SourceNodeUUID: sourceUUID,
		TargetNodeUUID: targetUUID,
		Fact:           req.Fact,
		FactEmbedding:  vector,
		Episodes:       episodes,
		CreatedAt:      now,
		ValidAt:        &newValidAt,
		Attributes:     attrs,
	}
	if err := u.store.SaveEdge(ctx, newEdge); err != nil {
		return nil, err
	}

	u.logger.Info("fact superseded",
		"old_uuid", oldEdge.UUID,
		"new_uuid", newEdge.UUID,
		"group_id", oldEdge.GroupID)

	citations, err := u.resolver.ForEdge(ctx, newEdge)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		OldUUID:   oldEdge.UUID,
		NewUUID:   newEdge.UUID,
		Edge:      newEdge,
		Citations: citations,
	}, nil
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
