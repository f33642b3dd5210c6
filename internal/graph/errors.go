package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for operations on an unregistered entity.
	ErrNotFound = errors.New("entity not registered")

	// ErrExists is returned when registering a name twice.
	ErrExists = errors.New("entity already registered")
)

// CycleError reports a dependency cycle among derived entities. Path lists
// the cycle in dependency order and repeats its first element at the end.
type CycleError struct {
	Entity string
	Path   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("registering %s would create a dependency cycle: %s",
		e.Entity, strings.Join(e.Path, " -> "))
}

// DepthError reports a dependency chain longer than the configured maximum.
type DepthError struct {
	Entity string
	Depth  int
	Max    int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("entity %s has dependency depth %d, exceeding maximum %d",
		e.Entity, e.Depth, e.Max)
}

// DependentsError is returned when dropping an entity others depend on.
type DependentsError struct {
	Entity     string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("cannot drop %s: required by %s",
		e.Entity, strings.Join(e.Dependents, ", "))
}

// IsCycle reports whether err is a *CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsDepthExceeded reports whether err is a *DepthError.
func IsDepthExceeded(err error) bool {
	var de *DepthError
	return errors.As(err, &de)
}
