package sagastore

import "github.com/director74/sagacore/pkg/saga"

// Mutation and Store are aliased from pkg/saga, which owns the port
// definition SE depends on; sagastore only provides implementations.
type Mutation = saga.Mutation

var (
	ErrAlreadyExists      = saga.ErrSagaAlreadyExists
	ErrNotFound           = saga.ErrSagaNotFound
	ErrIllegalTransition  = saga.ErrStoreIllegalTransition
)
