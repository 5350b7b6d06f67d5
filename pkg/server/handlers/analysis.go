package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/analysis"
)

// cvrDefinitions is echoed alongside funnel metrics so consumers do not
// have to guess the denominators.
var cvrDefinitions = gin.H{
	"contribution_rate":        "component incidents / all component mentions for the cause category",
	"severity_weighted_rate":   "contribution_rate * (1 + severe incidents / component incidents)",
	"component_to_severe_rate": "severe incidents / component incidents",
	"severe_to_slo_rate":       "SLO-violating incidents / severe incidents",
	"end_to_end_cvr":           "SLO-violating incidents / component incidents",
}

// severityCriteria documents how an incident is classified severe.
var severityCriteria = gin.H{
	"name_markers":  []string{"WARNING:2", "CRITICAL"},
	"chain_markers": []string{"PagerDuty", "triggered", "SLO"},
}

// analysisService is the analytics surface the handler depends on.
type analysisService interface {
	Timeline(ctx context.Context, groupIDs []string, component string) (*analysis.TimelineResult, error)
	DetectRecurrence(ctx context.Context, groupIDs []string, threshold float64, useLLM bool) ([]analysis.RecurrencePattern, error)
	ComponentImpacts(ctx context.Context, filters analysis.Filters) ([]analysis.ComponentImpact, map[string]int, error)
	SeverityConversions(ctx context.Context, filters analysis.Filters) ([]analysis.SeverityConversion, error)
	Flows(ctx context.Context, filters analysis.Filters) ([]analysis.FlowMetrics, error)
}

// AnalysisHandler handles incident analytics requests
type AnalysisHandler struct {
	analyzer         analysisService
	defaultGroupID   string
	defaultThreshold float64
	logger           *slog.Logger
}

// NewAnalysisHandler creates a new analysis handler. defaultThreshold <= 0
// keeps the built-in recurrence threshold.
func NewAnalysisHandler(analyzer analysisService, defaultGroupID string, defaultThreshold float64, logger *slog.Logger) *AnalysisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultThreshold <= 0 {
		defaultThreshold = analysis.DefaultRecurrenceThreshold
	}
	return &AnalysisHandler{
		analyzer:         analyzer,
		defaultGroupID:   defaultGroupID,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

func (h *AnalysisHandler) groupIDs(c *gin.Context) []string {
	if groupID := c.Query("group_id"); groupID != "" {
		return []string{groupID}
	}
	return []string{h.defaultGroupID}
}

// CausalityTimeline handles GET /graph/analysis/causality-timeline
func (h *AnalysisHandler) CausalityTimeline(c *gin.Context) {
	component := c.Query("component")
	category := c.Query("category")

	result, err := h.analyzer.Timeline(c.Request.Context(), h.groupIDs(c), component)
	if err != nil {
		respondError(c, err)
		return
	}

	entries := result.Entries
	if category != "" {
		filtered := entries[:0:0]
		for _, entry := range entries {
			if entry.CauseCategory == category {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"timeline":          entries,
		"component_history": result.Components,
		"total_episodes":    len(entries),
		"filters":           gin.H{"component": component, "category": category},
	})
}

// RecurringIncidents handles GET /graph/analysis/recurring-incidents
func (h *AnalysisHandler) RecurringIncidents(c *gin.Context) {
	threshold := parseFloat(c.Query("similarity_threshold"), h.defaultThreshold)
	useLLM := c.Query("use_llm") != "false"
	minOccurrences := parseInt(c.Query("min_occurrences"), 2)

	patterns, err := h.analyzer.DetectRecurrence(c.Request.Context(), h.groupIDs(c), threshold, useLLM)
	if err != nil {
		respondError(c, err)
		return
	}
	patterns = filterByOccurrences(patterns, minOccurrences)

	method := "embedding"
	if useLLM {
		method = "embedding+llm"
	}
	if threshold <= 0 {
		threshold = analysis.DefaultRecurrenceThreshold
	}
	c.JSON(http.StatusOK, gin.H{
		"recurring_patterns":   patterns,
		"total_patterns":       len(patterns),
		"analysis_method":      method,
		"similarity_threshold": threshold,
	})
}

// filterByOccurrences keeps patterns whose episodes recur at least
// minOccurrences times across the pattern set. The default of 2 keeps
// every pairwise match.
func filterByOccurrences(patterns []analysis.RecurrencePattern, minOccurrences int) []analysis.RecurrencePattern {
	if minOccurrences <= 2 {
		return patterns
	}
	seen := map[string]int{}
	for _, p := range patterns {
		seen[p.EpisodeAUUID]++
		seen[p.EpisodeBUUID]++
	}
	kept := patterns[:0:0]
	for _, p := range patterns {
		// A pattern partner count of n means the episode occurred n+1 times.
		if seen[p.EpisodeAUUID]+1 >= minOccurrences || seen[p.EpisodeBUUID]+1 >= minOccurrences {
			kept = append(kept, p)
		}
	}
	return kept
}

// ComponentImpact handles GET /graph/analysis/component-impact
func (h *AnalysisHandler) ComponentImpact(c *gin.Context) {
	filters := analysis.Filters{
		GroupIDs:     h.groupIDs(c),
		MinIncidents: parseInt(c.Query("min_incidents"), 1),
		Category:     c.Query("category_filter"),
		Component:    c.Query("component_filter"),
	}

	impacts, categoryTotals, err := h.analyzer.ComponentImpacts(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_results": impacts,
		"category_totals":  categoryTotals,
		"total_pairs":      len(impacts),
		"filters": gin.H{
			"min_incidents":    filters.MinIncidents,
			"category_filter":  filters.Category,
			"component_filter": filters.Component,
		},
	})
}

// ComponentSeverity handles GET /graph/analysis/component-severity
func (h *AnalysisHandler) ComponentSeverity(c *gin.Context) {
	filters := analysis.Filters{
		GroupIDs:     h.groupIDs(c),
		MinIncidents: parseInt(c.Query("min_incidents"), 1),
		Component:    c.Query("component_filter"),
	}

	conversions, err := h.analyzer.SeverityConversions(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_results": conversions,
		"total_components": len(conversions),
		"filters": gin.H{
			"min_incidents":    filters.MinIncidents,
			"component_filter": filters.Component,
		},
		"severity_criteria": severityCriteria,
	})
}

// FlowMetrics handles GET /graph/analysis/flow-metrics
func (h *AnalysisHandler) FlowMetrics(c *gin.Context) {
	filters := analysis.Filters{
		GroupIDs:     h.groupIDs(c),
		MinFlowCount: parseInt(c.Query("min_flow_count"), 1),
		Category:     c.Query("category_filter"),
	}

	flows, err := h.analyzer.Flows(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}

	categoryTotals := map[string]int{}
	totalFlows := 0
	for _, flow := range flows {
		categoryTotals[flow.CauseCategory] += flow.TotalFlows
		totalFlows += flow.TotalFlows
	}
	c.JSON(http.StatusOK, gin.H{
		"flow_metrics":    flows,
		"total_flows":     totalFlows,
		"category_totals": categoryTotals,
		"cvr_definitions": cvrDefinitions,
	})
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		return parsed
	}
	return fallback
}

func parseFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
		return parsed
	}
	return fallback
}
