// Package types defines the shared data model for the anamnesis memory
// service: episodic nodes, entity nodes, bitemporal entity edges, and the
// citation records that tie facts back to their source episodes.
package types
