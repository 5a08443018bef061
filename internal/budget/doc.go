// Package budget keeps chunks under the embedding model's token ceiling.
//
// The ceiling is normally half the model's maximum input (see CeilingForModel).
// Fragments from the chunker that exceed it are re-split on line boundaries.
// A single line longer than the ceiling is handled by the OversizePolicy:
// truncated by default, or kept whole with OversizeAccept. Either way a warning
// is logged.
//
//	enf, err := budget.New(tok, budget.CeilingForModel("text-embedding-3-small"))
//	chunks := enf.Enforce(fragments)
package budget
