// Package extraction turns raw episodes into graph structure: it
// persists the episodic node, asks the language model for entities and
// candidate facts, deduplicates both against the existing graph, and
// expires edges the new evidence supersedes. One Process call is one
// episode; the ingestion queue serializes calls per group.
package extraction
