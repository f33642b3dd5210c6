package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxPropagationDepth is the default iteration limit of one cascade.
const DefaultMaxPropagationDepth = 100

// DepthGuard counts the fixed-point iterations of one cascade and enforces
// the propagation depth limit.
//
// The dependency graph is acyclic by construction, so a cascade always
// terminates in theory. The guard is the runtime backstop for schemas whose
// fan-out produces chains deeper than the operator is willing to run inside
// one transaction.
//
// Each cascade has its own DepthGuard instance.
type DepthGuard struct {
	maxDepth int
	current  int
}

// NewDepthGuard creates a guard allowing maxDepth iterations.
func NewDepthGuard(maxDepth int) *DepthGuard {
	return &DepthGuard{maxDepth: maxDepth}
}

// Check counts one iteration and fails once the limit is exceeded.
// processed is the number of keys refreshed so far, for diagnostics.
func (g *DepthGuard) Check(processed int) error {
	g.current++
	if g.current > g.maxDepth {
		return &CascadeDepthError{
			MaxDepth:   g.maxDepth,
			Iterations: g.current,
			Processed:  processed,
		}
	}
	return nil
}

// Current returns the iteration count.
func (g *DepthGuard) Current() int {
	return g.current
}

// MaxDepth returns the iteration limit.
func (g *DepthGuard) MaxDepth() int {
	return g.maxDepth
}

// CascadeDepthError is returned when a cascade needs more iterations than
// allowed. The transaction that ran the cascade is rolled back.
type CascadeDepthError struct {
	MaxDepth   int // Maximum allowed iterations
	Iterations int // Iteration that crossed the limit
	Processed  int // Keys refreshed before giving up
}

// Error implements the error interface.
func (e *CascadeDepthError) Error() string {
	return fmt.Sprintf("cascade exceeded max propagation depth: %d iterations > %d limit (%d keys processed)",
		e.Iterations, e.MaxDepth, e.Processed)
}

// IsCascadeDepthError returns true if the error is a CascadeDepthError.
// Uses errors.As to handle wrapped errors.
func IsCascadeDepthError(err error) bool {
	var de *CascadeDepthError
	return errors.As(err, &de)
}
