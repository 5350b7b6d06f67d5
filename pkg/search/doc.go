// Package search ranks facts and entities for a query by fusing a
// vector ranking with a lexical BM25 ranking through reciprocal rank
// fusion, optionally re-ranked by graph distance from a center node.
// Returned facts are decorated with citations; embeddings never leave
// the service.
package search
