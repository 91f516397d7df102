// Package resolve decides which of several entries for the same key wins.
// The winner is the entry with the greatest order token; entries with equal
// tokens are the same write delivered more than once. Resolution is pure, so
// folding any permutation of a set of entries yields the same winner.
package resolve
