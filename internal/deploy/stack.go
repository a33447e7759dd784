package deploy

import (
	"context"
	"errors"
	"slices"
)

type (
	// Stack is a LIFO queue of 'Destructor's which, when called, tear down a
	// resource created during deployment. A failed 'Up' destroys the partial
	// stack so the account is left clean.
	Stack struct {
		Destructors []Destructor
	}
	Destructor func(ctx context.Context) error
)

// Push adds a destructor to the 'Destructors' slice, to be destroyed in the
// reverse order they were added.
func (s *Stack) Push(d Destructor) {
	s.Destructors = append(s.Destructors, d)
}

// Destroy calls all accumulated destructors in the reverse order they were
// added, returning all encountered errors joined.
func (s *Stack) Destroy(ctx context.Context) error {
	var errs error
	for _, destructor := range slices.Backward(s.Destructors) {
		errs = errors.Join(errs, destructor(ctx))
	}
	return errs
}
