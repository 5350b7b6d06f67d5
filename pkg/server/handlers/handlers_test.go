package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/anamnesis/pkg/analysis"
	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// fakeQueue records submissions.

type fakeQueue struct {
	subs []types.EpisodeSubmission
	err  error
}

func (f *fakeQueue) Submit(sub types.EpisodeSubmission) error {
	if f.err != nil {
		return f.err
	}
	f.subs = append(f.subs, sub)
	return nil
}

func TestAddEpisodeQueues(t *testing.T) {
	q := &fakeQueue{}
	router := gin.New()
	router.POST("/graph/episodes", NewIngestHandler(q, "main", quietLogger()).AddEpisode)

	rec := doJSON(t, router, http.MethodPost, "/graph/episodes", map[string]any{
		"name":    "deploy note",
		"content": "rolled out billing-api v2",
		"source":  "text",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.subs, 1)
	assert.Equal(t, "main", q.subs[0].GroupID)
	assert.Equal(t, types.SourceText, q.subs[0].Source)

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "deploy note", body["episode_name"])
}

func TestAddEpisodeRejectsMissingContent(t *testing.T) {
	q := &fakeQueue{}
	router := gin.New()
	router.POST("/graph/episodes", NewIngestHandler(q, "main", quietLogger()).AddEpisode)

	rec := doJSON(t, router, http.MethodPost, "/graph/episodes", map[string]any{"name": "only a name"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.subs)
}

func TestAddEpisodeShuttingDown(t *testing.T) {
	q := &fakeQueue{err: queue.ErrShuttingDown}
	router := gin.New()
	router.POST("/graph/episodes", NewIngestHandler(q, "main", quietLogger()).AddEpisode)

	rec := doJSON(t, router, http.MethodPost, "/graph/episodes", map[string]any{
		"name":    "late arrival",
		"content": "submitted during shutdown",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// fakeSearch returns canned results and records queries.

type fakeSearch struct {
	factQuery search.FactQuery
	nodeQuery search.NodeQuery
	facts     []search.FactResult
	nodes     []search.NodeResult
	episodes  []*types.EpisodicNode
}

func (f *fakeSearch) SearchFacts(ctx context.Context, q search.FactQuery) ([]search.FactResult, error) {
	f.factQuery = q
	return f.facts, nil
}

func (f *fakeSearch) SearchNodes(ctx context.Context, q search.NodeQuery) ([]search.NodeResult, error) {
	f.nodeQuery = q
	return f.nodes, nil
}

func (f *fakeSearch) SearchEpisodes(ctx context.Context, groupIDs []string, maxResults int) ([]*types.EpisodicNode, error) {
	return f.episodes, nil
}

func TestSearchFactsDefaults(t *testing.T) {
	svc := &fakeSearch{facts: []search.FactResult{{UUID: "edge-1", Fact: "a caused b"}}}
	router := gin.New()
	router.POST("/graph/search", NewSearchHandler(svc, "main", quietLogger()).Search)

	rec := doJSON(t, router, http.MethodPost, "/graph/search", map[string]any{"query": "what caused b"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"main"}, svc.factQuery.GroupIDs)
	assert.Equal(t, defaultMaxResults, svc.factQuery.MaxResults)

	body := decode(t, rec)
	assert.Equal(t, "facts", body["search_type"])
	assert.Equal(t, float64(1), body["count"])
}

func TestSearchNodesPassesLabels(t *testing.T) {
	svc := &fakeSearch{}
	router := gin.New()
	router.POST("/graph/search", NewSearchHandler(svc, "main", quietLogger()).Search)

	rec := doJSON(t, router, http.MethodPost, "/graph/search", map[string]any{
		"query":        "billing",
		"search_type":  "nodes",
		"entity_types": []string{"Service"},
		"max_results":  5,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Service"}, svc.nodeQuery.EntityTypeLabels)
	assert.Equal(t, 5, svc.nodeQuery.MaxResults)
}

func TestSearchRejectsBadType(t *testing.T) {
	router := gin.New()
	router.POST("/graph/search", NewSearchHandler(&fakeSearch{}, "main", quietLogger()).Search)

	rec := doJSON(t, router, http.MethodPost, "/graph/search", map[string]any{
		"query":       "anything",
		"search_type": "paragraphs",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsOversizedLimit(t *testing.T) {
	router := gin.New()
	router.POST("/graph/search", NewSearchHandler(&fakeSearch{}, "main", quietLogger()).Search)

	rec := doJSON(t, router, http.MethodPost, "/graph/search", map[string]any{
		"query":       "anything",
		"max_results": 500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// fakeGraphStore backs the CRUD handlers.

type fakeGraphStore struct {
	edges    map[string]*types.EntityEdge
	episodes []*types.EpisodicNode
	deleted  []string
	cleared  []string
}

func (f *fakeGraphStore) GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error) {
	if edge, ok := f.edges[uuid]; ok {
		return edge, nil
	}
	return nil, driver.ErrNotFound
}

func (f *fakeGraphStore) DeleteEdge(ctx context.Context, uuid string) error {
	if _, ok := f.edges[uuid]; !ok {
		return driver.ErrNotFound
	}
	delete(f.edges, uuid)
	f.deleted = append(f.deleted, uuid)
	return nil
}

func (f *fakeGraphStore) DeleteEpisode(ctx context.Context, uuid string) error {
	for i, ep := range f.episodes {
		if ep.UUID == uuid {
			f.episodes = append(f.episodes[:i], f.episodes[i+1:]...)
			f.deleted = append(f.deleted, uuid)
			return nil
		}
	}
	return driver.ErrNotFound
}

func (f *fakeGraphStore) EpisodesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error) {
	return f.episodes, nil
}

func (f *fakeGraphStore) ClearGroup(ctx context.Context, groupID string) error {
	f.cleared = append(f.cleared, groupID)
	return nil
}

type fakeCiter struct{}

func (fakeCiter) ForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.Citation, error) {
	return []types.Citation{{EpisodeUUID: "ep-1", EpisodeName: "source episode"}}, nil
}

type fakeUpdater struct {
	result  *citations.UpdateResult
	lastReq citations.UpdateRequest
}

func (f *fakeUpdater) UpdateFact(ctx context.Context, edgeUUID string, req citations.UpdateRequest) (*citations.UpdateResult, error) {
	f.lastReq = req
	if f.result == nil {
		return nil, driver.ErrNotFound
	}
	return f.result, nil
}

func graphRouter(store *fakeGraphStore, updater *fakeUpdater) *gin.Engine {
	h := NewGraphHandler(store, updater, fakeCiter{}, "main", quietLogger())
	router := gin.New()
	router.GET("/graph/facts/:uuid", h.GetFact)
	router.PATCH("/graph/facts/:uuid", h.UpdateFact)
	router.DELETE("/graph/facts/:uuid", h.DeleteFact)
	router.GET("/graph/episodes", h.ListEpisodes)
	router.DELETE("/graph/episodes/:uuid", h.DeleteEpisode)
	router.POST("/graph/clear", h.ClearGraph)
	return router
}

func TestGetFact(t *testing.T) {
	store := &fakeGraphStore{edges: map[string]*types.EntityEdge{
		"edge-1": {UUID: "edge-1", Name: "CAUSED", Fact: "a caused b", GroupID: "main"},
	}}
	router := graphRouter(store, &fakeUpdater{})

	rec := doJSON(t, router, http.MethodGet, "/graph/facts/edge-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	fact := body["fact"].(map[string]any)
	assert.Equal(t, "a caused b", fact["fact"])
	require.Len(t, fact["citations"], 1)
}

func TestGetFactNotFound(t *testing.T) {
	router := graphRouter(&fakeGraphStore{edges: map[string]*types.EntityEdge{}}, &fakeUpdater{})

	rec := doJSON(t, router, http.MethodGet, "/graph/facts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

func TestUpdateFact(t *testing.T) {
	store := &fakeGraphStore{edges: map[string]*types.EntityEdge{}}
	updater := &fakeUpdater{result: &citations.UpdateResult{
		OldUUID: "edge-1",
		NewUUID: "edge-2",
		Edge:    &types.EntityEdge{UUID: "edge-2", Name: "CAUSED", Fact: "a actually caused c", GroupID: "main"},
	}}
	router := graphRouter(store, updater)

	rec := doJSON(t, router, http.MethodPatch, "/graph/facts/edge-1", map[string]any{
		"fact":             "a actually caused c",
		"update_reason":    "postmortem correction",
		"target_node_uuid": "ent-c",
		"attributes":       map[string]any{"confidence": "high"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "updated", body["status"])
	assert.Equal(t, "edge-1", body["old_uuid"])
	assert.Equal(t, "edge-2", body["new_uuid"])

	// Optional endpoint override and attributes reach the updater.
	assert.Equal(t, "a actually caused c", updater.lastReq.Fact)
	assert.Equal(t, "ent-c", updater.lastReq.TargetNodeUUID)
	assert.Empty(t, updater.lastReq.SourceNodeUUID)
	assert.Equal(t, map[string]any{"confidence": "high"}, updater.lastReq.Attributes)
}

func TestDeleteEpisode(t *testing.T) {
	store := &fakeGraphStore{episodes: []*types.EpisodicNode{{UUID: "ep-1", Name: "old note"}}}
	router := graphRouter(store, &fakeUpdater{})

	rec := doJSON(t, router, http.MethodDelete, "/graph/episodes/ep-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ep-1"}, store.deleted)

	rec = doJSON(t, router, http.MethodDelete, "/graph/episodes/ep-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearGraphRequiresGroups(t *testing.T) {
	store := &fakeGraphStore{}
	router := graphRouter(store, &fakeUpdater{})

	rec := doJSON(t, router, http.MethodPost, "/graph/clear", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/graph/clear", map[string]any{"group_ids": []string{"stale"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stale"}, store.cleared)
}

// fakeAnalyzer returns canned analytics.

type fakeAnalyzer struct {
	timeline *analysis.TimelineResult
	patterns []analysis.RecurrencePattern
	impacts  []analysis.ComponentImpact
	totals   map[string]int
	flows    []analysis.FlowMetrics
}

func (f *fakeAnalyzer) Timeline(ctx context.Context, groupIDs []string, component string) (*analysis.TimelineResult, error) {
	return f.timeline, nil
}

func (f *fakeAnalyzer) DetectRecurrence(ctx context.Context, groupIDs []string, threshold float64, useLLM bool) ([]analysis.RecurrencePattern, error) {
	return f.patterns, nil
}

func (f *fakeAnalyzer) ComponentImpacts(ctx context.Context, filters analysis.Filters) ([]analysis.ComponentImpact, map[string]int, error) {
	return f.impacts, f.totals, nil
}

func (f *fakeAnalyzer) SeverityConversions(ctx context.Context, filters analysis.Filters) ([]analysis.SeverityConversion, error) {
	return nil, nil
}

func (f *fakeAnalyzer) Flows(ctx context.Context, filters analysis.Filters) ([]analysis.FlowMetrics, error) {
	return f.flows, nil
}

func analysisRouter(f *fakeAnalyzer) *gin.Engine {
	h := NewAnalysisHandler(f, "main", 0, quietLogger())
	router := gin.New()
	router.GET("/graph/analysis/causality-timeline", h.CausalityTimeline)
	router.GET("/graph/analysis/recurring-incidents", h.RecurringIncidents)
	router.GET("/graph/analysis/component-impact", h.ComponentImpact)
	router.GET("/graph/analysis/component-severity", h.ComponentSeverity)
	router.GET("/graph/analysis/flow-metrics", h.FlowMetrics)
	return router
}

func TestCausalityTimelineCategoryFilter(t *testing.T) {
	f := &fakeAnalyzer{timeline: &analysis.TimelineResult{
		Entries: []analysis.TimelineEntry{
			{EpisodeUUID: "ep-1", CauseCategory: "reason/oom"},
			{EpisodeUUID: "ep-2", CauseCategory: "reason/disk_pressure"},
		},
		Components: map[string]*analysis.ComponentAggregate{},
	}}
	router := analysisRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/graph/analysis/causality-timeline?category=reason/oom", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total_episodes"])
	timeline := body["timeline"].([]any)
	require.Len(t, timeline, 1)
	assert.Equal(t, "ep-1", timeline[0].(map[string]any)["episode_uuid"])
}

func TestRecurringIncidentsResponse(t *testing.T) {
	f := &fakeAnalyzer{patterns: []analysis.RecurrencePattern{
		{EpisodeAUUID: "ep-1", EpisodeBUUID: "ep-2", EmbeddingSimilarity: 0.9},
	}}
	router := analysisRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/graph/analysis/recurring-incidents?use_llm=false", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "embedding", body["analysis_method"])
	assert.Equal(t, float64(1), body["total_patterns"])
	assert.Equal(t, analysis.DefaultRecurrenceThreshold, body["similarity_threshold"])
}

func TestFlowMetricsEchoesDefinitions(t *testing.T) {
	f := &fakeAnalyzer{flows: []analysis.FlowMetrics{
		{CauseCategory: "reason/oom", Component: "billing-api", TotalFlows: 4},
		{CauseCategory: "reason/oom", Component: "redis", TotalFlows: 2},
	}}
	router := analysisRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/graph/analysis/flow-metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(6), body["total_flows"])
	totals := body["category_totals"].(map[string]any)
	assert.Equal(t, float64(6), totals["reason/oom"])
	definitions := body["cvr_definitions"].(map[string]any)
	assert.Contains(t, definitions, "end_to_end_cvr")
}

type fakeConnectivity struct {
	err error
}

func (f *fakeConnectivity) VerifyConnectivity(ctx context.Context) error { return f.err }

type fakeCounters struct{}

func (fakeCounters) Counters() queue.Counters {
	return queue.Counters{Enqueued: 3, Succeeded: 2, Failed: 1}
}

func TestStatusReportsQueueCounters(t *testing.T) {
	h := NewHealthHandler(&fakeConnectivity{}, fakeCounters{})
	router := gin.New()
	router.GET("/status", h.Status)

	rec := doJSON(t, router, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "connected", body["database"])
	queueCounters := body["queue"].(map[string]any)
	assert.Equal(t, float64(3), queueCounters["enqueued"])
	assert.Equal(t, float64(1), queueCounters["failed"])
}

func TestStatusDegradedWhenStoreDown(t *testing.T) {
	h := NewHealthHandler(&fakeConnectivity{err: driver.ErrUnavailable}, fakeCounters{})
	router := gin.New()
	router.GET("/status", h.Status)

	rec := doJSON(t, router, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["database"])
}

func TestFilterByOccurrences(t *testing.T) {
	patterns := []analysis.RecurrencePattern{
		{EpisodeAUUID: "a", EpisodeBUUID: "b"},
		{EpisodeAUUID: "a", EpisodeBUUID: "c"},
		{EpisodeAUUID: "d", EpisodeBUUID: "e"},
	}

	kept := filterByOccurrences(patterns, 3)
	require.Len(t, kept, 2)
	for _, p := range kept {
		assert.Equal(t, "a", p.EpisodeAUUID)
	}

	assert.Len(t, filterByOccurrences(patterns, 2), 3)
}
