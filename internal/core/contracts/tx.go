package contracts

import "context"

// Transactor runs fn in a unit of work that repositories pick up from ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
