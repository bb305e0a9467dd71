package state

import (
	"errors"

	errs "github.com/vango-dev/sharedstate/internal/errors"
)

// ErrCycle is wrapped by the panic value raised when a derived cell reads
// itself, directly or through other derived cells.
var ErrCycle = errors.New("state: cyclic derivation")

func cycleError(cell string) error {
	return errs.New("S001").
		WithSubject(cell).
		WithSuggestion("break the loop by reading one side without Track").
		Wrap(ErrCycle)
}
