package shared

import "context"

// TransactionManager runs a unit of work atomically. Implementations carry
// the active transaction through the context so repositories participating
// in the same unit of work share it.
type TransactionManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
