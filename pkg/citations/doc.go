// Package citations maintains the link between stored facts and the
// episodes that evidence them. It resolves an edge's episodes[] into
// renderable citations, reconstructs the provenance chain of a fact or
// entity, and implements the fact update protocol that expires an old
// edge version while the new version inherits its citations.
package citations
