// Package reassembler joins retrieved chunks into a single block of text
// under a token budget. Text over the budget is never truncated; Combine
// fails with ErrOverBudget and CombineAround drops chunks far from a seed
// ordinal until the rest fits.
package reassembler
