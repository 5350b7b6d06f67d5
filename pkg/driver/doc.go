// Package driver wraps the external property-graph database behind typed
// operations on episodic nodes, entity nodes, and RELATES_TO edges. The
// only implementation speaks bolt to a Neo4j-compatible server (including
// FalkorDB in bolt mode); all Cypher lives here so the rest of the service
// never sees driver records.
package driver
