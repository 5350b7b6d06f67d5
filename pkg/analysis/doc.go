// Package analysis mines the ingested graph for incident intelligence:
// a chronological causality timeline per namespace, recurrence detection
// over root-cause embeddings with LLM confirmation, and CVR-style funnel
// metrics that attribute severe incidents and SLO violations to cause
// categories and components.
package analysis
