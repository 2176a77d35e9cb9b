package contracts

import "context"

// PokeObserver reacts to a committed poke. Implementations must not block
// the caller.
type PokeObserver interface {
	OnPokeCreatedOrIncremented(ctx context.Context, actorID, targetID string)
}
