package analysis

import (
	"regexp"
	"strings"
)

// causalityKeywords selects RELATES_TO edges that express causality.
// Matched case-insensitively against the fact text.
var causalityKeywords = []string{
	"caused",
	"triggered",
	"linked",
	"introduced",
	"resulted in",
	"led to",
	"due to",
	"because of",
	"rolled back",
	"mitigated",
	"resolved by",
}

// CausalityKeywords returns a copy of the keyword set, lowercased for
// store-side matching.
func CausalityKeywords() []string {
	return append([]string(nil), causalityKeywords...)
}

// DefaultToolEntities is the default blocklist of tooling and process
// entities that are mentioned in almost every incident but are never the
// impacted component.
var DefaultToolEntities = []string{
	"PagerDuty",
	"Git",
	"issue metadata",
	"Slack",
	"backlog",
	"runbook",
	"guideline",
	"on-call engineer",
	"dashboard",
	"example.com",
	"SLO Dashboard",
	"Monitoring System",
}

// causeCategoryPattern recovers the alert reason label from episode
// content, e.g. "Labels: Alert; reason/disk_pressure".
var causeCategoryPattern = regexp.MustCompile(`Labels:\s*Alert;\s*(reason/\w+)`)

// CauseCategory parses the alert reason from episode content; empty when
// the episode carries no alert label.
func CauseCategory(content string) string {
	if match := causeCategoryPattern.FindStringSubmatch(content); match != nil {
		return match[1]
	}
	return ""
}

// severeNameMarkers classify an episode as severe by name alone.
var severeNameMarkers = []string{"WARNING:2", "CRITICAL"}

// severeChainMarkers classify an incident as severe when its causality
// chains escalated to paging or SLO impact.
var severeChainMarkers = []string{"PagerDuty", "triggered", "SLO"}

// IsSevereName reports whether the episode name marks a severe incident.
func IsSevereName(name string) bool {
	for _, marker := range severeNameMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// ChainsEscalated reports whether any causality chain carries an
// escalation marker.
func ChainsEscalated(chains []string) bool {
	for _, chain := range chains {
		for _, marker := range severeChainMarkers {
			if strings.Contains(chain, marker) {
				return true
			}
		}
	}
	return false
}

// rootCauseLineCount is how many lines after the "Root cause" heading
// are taken as the root-cause text.
const rootCauseLineCount = 3

// RootCause extracts the root-cause section from episode content: up to
// three lines following a line containing "Root cause". Empty when the
// content has no such section.
func RootCause(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "Root cause") {
			continue
		}
		end := i + 1 + rootCauseLineCount
		if end > len(lines) {
			end = len(lines)
		}
		section := strings.TrimSpace(strings.Join(lines[i+1:end], "\n"))
		return section
	}
	return ""
}
