package analysis

import (
	"context"
	"sort"
	"strings"
)

// Filters narrows the funnel analytics.
type Filters struct {
	Component    string   `json:"component,omitempty"`
	Category     string   `json:"category,omitempty"`
	GroupIDs     []string `json:"group_ids,omitempty"`
	MinIncidents int      `json:"min_incidents,omitempty"`
	MinFlowCount int      `json:"min_flow_count,omitempty"`
}

// ComponentImpact attributes incidents of a cause category to a
// component. severity_weighted_rate scales the contribution by how many
// of the component's incidents were severe.
type ComponentImpact struct {
	CauseCategory        string  `json:"cause_category"`
	Component            string  `json:"component"`
	IncidentCount        int     `json:"incident_count"`
	SevereCount          int     `json:"severe_count"`
	ContributionRate     float64 `json:"contribution_rate"`
	SeverityWeightedRate float64 `json:"severity_weighted_rate"`
}

// SeverityConversion is a component's severe/total ratio. Severe here
// also counts escalated causality chains, not just episode names.
type SeverityConversion struct {
	Component      string  `json:"component"`
	IncidentCount  int     `json:"incident_count"`
	SevereCount    int     `json:"severe_count"`
	ConversionRate float64 `json:"conversion_rate"`
}

// FlowMetrics is the CVR funnel for one (cause_category, component)
// pair: component incidents converting to severe incidents converting to
// SLO violations.
type FlowMetrics struct {
	CauseCategory       string  `json:"cause_category"`
	Component           string  `json:"component"`
	TotalFlows          int     `json:"total_flows"`
	SevereFlows         int     `json:"severe_flows"`
	SLOViolationFlows   int     `json:"slo_violation_flows"`
	ComponentToSevere   float64 `json:"component_to_severe_rate"`
	SevereToSLO         float64 `json:"severe_to_slo_rate"`
	EndToEndCVR         float64 `json:"end_to_end_cvr"`
}

// ComponentImpacts reports, per (cause_category, component) with at
// least MinIncidents occurrences, the component's contribution to that
// category weighted by severity. The second return is the component
// mention count per cause category, the denominator of the rates.
func (a *Analyzer) ComponentImpacts(ctx context.Context, filters Filters) ([]ComponentImpact, map[string]int, error) {
	timeline, err := a.Timeline(ctx, filters.GroupIDs, filters.Component)
	if err != nil {
		return nil, nil, err
	}

	type pairKey struct{ category, component string }
	counts := map[pairKey]int{}
	severe := map[pairKey]int{}
	categoryTotals := map[string]int{}

	for _, entry := range timeline.Entries {
		if entry.CauseCategory == "" {
			continue
		}
		if filters.Category != "" && entry.CauseCategory != filters.Category {
			continue
		}
		categoryTotals[entry.CauseCategory] += len(entry.Components)
		for _, component := range entry.Components {
			if filters.Component != "" && component != filters.Component {
				continue
			}
			key := pairKey{entry.CauseCategory, component}
			counts[key]++
			if IsSevereName(entry.EpisodeName) {
				severe[key]++
			}
		}
	}

	minIncidents := filters.MinIncidents
	if minIncidents <= 0 {
		minIncidents = 1
	}

	var impacts []ComponentImpact
	for key, count := range counts {
		if count < minIncidents {
			continue
		}
		total := categoryTotals[key.category]
		if total == 0 {
			continue
		}
		contribution := float64(count) / float64(total)
		severeCount := severe[key]
		impacts = append(impacts, ComponentImpact{
			CauseCategory:        key.category,
			Component:            key.component,
			IncidentCount:        count,
			SevereCount:          severeCount,
			ContributionRate:     contribution,
			SeverityWeightedRate: contribution * (1 + float64(severeCount)/float64(count)),
		})
	}
	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].SeverityWeightedRate != impacts[j].SeverityWeightedRate {
			return impacts[i].SeverityWeightedRate > impacts[j].SeverityWeightedRate
		}
		if impacts[i].CauseCategory != impacts[j].CauseCategory {
			return impacts[i].CauseCategory < impacts[j].CauseCategory
		}
		return impacts[i].Component < impacts[j].Component
	})
	return impacts, categoryTotals, nil
}

// SeverityConversions reports, per component, how often its incidents
// were severe. An incident is severe when the episode name says so or
// its causality chains escalated.
func (a *Analyzer) SeverityConversions(ctx context.Context, filters Filters) ([]SeverityConversion, error) {
	timeline, err := a.Timeline(ctx, filters.GroupIDs, filters.Component)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	severe := map[string]int{}
	for _, entry := range timeline.Entries {
		entrySevere := IsSevereName(entry.EpisodeName) || ChainsEscalated(entry.CausalityChains)
		for _, component := range entry.Components {
			if filters.Component != "" && component != filters.Component {
				continue
			}
			counts[component]++
			if entrySevere {
				severe[component]++
			}
		}
	}

	minIncidents := filters.MinIncidents
	if minIncidents <= 0 {
		minIncidents = 1
	}

	var conversions []SeverityConversion
	for component, count := range counts {
		if count < minIncidents {
			continue
		}
		conversions = append(conversions, SeverityConversion{
			Component:      component,
			IncidentCount:  count,
			SevereCount:    severe[component],
			ConversionRate: float64(severe[component]) / float64(count),
		})
	}
	sort.Slice(conversions, func(i, j int) bool {
		if conversions[i].ConversionRate != conversions[j].ConversionRate {
			return conversions[i].ConversionRate > conversions[j].ConversionRate
		}
		return conversions[i].Component < conversions[j].Component
	})
	return conversions, nil
}

// Flows reports the end-to-end funnel per (cause_category, component):
// how many incidents flowed to severe and on to SLO violations.
func (a *Analyzer) Flows(ctx context.Context, filters Filters) ([]FlowMetrics, error) {
	timeline, err := a.Timeline(ctx, filters.GroupIDs, filters.Component)
	if err != nil {
		return nil, err
	}

	type pairKey struct{ category, component string }
	total := map[pairKey]int{}
	severe := map[pairKey]int{}
	slo := map[pairKey]int{}

	for _, entry := range timeline.Entries {
		if entry.CauseCategory == "" {
			continue
		}
		if filters.Category != "" && entry.CauseCategory != filters.Category {
			continue
		}
		entrySevere := IsSevereName(entry.EpisodeName) || ChainsEscalated(entry.CausalityChains)
		entrySLO := chainsMentionSLO(entry.CausalityChains)
		for _, component := range entry.Components {
			if filters.Component != "" && component != filters.Component {
				continue
			}
			key := pairKey{entry.CauseCategory, component}
			total[key]++
			if entrySevere {
				severe[key]++
			}
			if entrySLO {
				slo[key]++
			}
		}
	}

	minFlows := filters.MinFlowCount
	if minFlows <= 0 {
		minFlows = 1
	}

	var flows []FlowMetrics
	for key, count := range total {
		if count < minFlows {
			continue
		}
		metrics := FlowMetrics{
			CauseCategory:     key.category,
			Component:         key.component,
			TotalFlows:        count,
			SevereFlows:       severe[key],
			SLOViolationFlows: slo[key],
			ComponentToSevere: float64(severe[key]) / float64(count),
			EndToEndCVR:       float64(slo[key]) / float64(count),
		}
		if severe[key] > 0 {
			metrics.SevereToSLO = float64(slo[key]) / float64(severe[key])
		}
		flows = append(flows, metrics)
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].EndToEndCVR != flows[j].EndToEndCVR {
			return flows[i].EndToEndCVR > flows[j].EndToEndCVR
		}
		if flows[i].CauseCategory != flows[j].CauseCategory {
			return flows[i].CauseCategory < flows[j].CauseCategory
		}
		return flows[i].Component < flows[j].Component
	})
	return flows, nil
}

func chainsMentionSLO(chains []string) bool {
	for _, chain := range chains {
		if strings.Contains(chain, "SLO") {
			return true
		}
	}
	return false
}
