package client

import (
	"pok7/internal/core/domain"
	"sort"
)

// OrderRelations sorts a copy of rels for display: relations where it is the
// caller's turn first, then by count descending, then most recent poke.
func OrderRelations(rels []domain.PokeRelation) []domain.PokeRelation {
	out := append([]domain.PokeRelation(nil), rels...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.YourTurn() != b.YourTurn() {
			return a.YourTurn()
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.LastPokeDate.After(b.LastPokeDate)
	})
	return out
}
