package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/config"
	"github.com/roach88/tview/internal/graph"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/store"
)

// RuntimeError is the error type surfaced by every engine operation.
//
// Codes are grouped by hundreds:
//   - TV0xx metadata
//   - TV1xx dependency graph
//   - TV2xx cascade and refresh
//   - TV3xx prepared transactions
//   - TV4xx configuration
//   - TV9xx internal invariants
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Entity and PK locate the failure when it concerns one row.
	Entity string
	PK     int64

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeMetadataNotFound RuntimeErrorCode = "TV001"
	ErrCodeAlreadyExists    RuntimeErrorCode = "TV002"
	ErrCodeInvalidName      RuntimeErrorCode = "TV003"

	ErrCodeCycleDetected   RuntimeErrorCode = "TV101"
	ErrCodeDepthExceeded   RuntimeErrorCode = "TV102"
	ErrCodeInvalidLineage  RuntimeErrorCode = "TV103"
	ErrCodeDependentsExist RuntimeErrorCode = "TV104"

	ErrCodeCascadeDepthExceeded   RuntimeErrorCode = "TV201"
	ErrCodeRefreshFailed          RuntimeErrorCode = "TV202"
	ErrCodeBatchTooLarge          RuntimeErrorCode = "TV203"
	ErrCodeConcurrentModification RuntimeErrorCode = "TV204"

	ErrCodeSerialization    RuntimeErrorCode = "TV301"
	ErrCodePreparedNotFound RuntimeErrorCode = "TV302"

	ErrCodeConfig RuntimeErrorCode = "TV401"

	ErrCodeInternal RuntimeErrorCode = "TV901"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	switch {
	case e.Entity != "" && e.PK != 0:
		fmt.Fprintf(&b, " (entity=%s, pk=%d)", e.Entity, e.PK)
	case e.Entity != "":
		fmt.Fprintf(&b, " (entity=%s)", e.Entity)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Details[k])
		}
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// CodeOf returns the code of the RuntimeError in err's chain, or "".
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func hasCode(err error, code RuntimeErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsMetadataNotFound reports whether err is a TV001 error.
func IsMetadataNotFound(err error) bool { return hasCode(err, ErrCodeMetadataNotFound) }

// IsAlreadyExists reports whether err is a TV002 error.
func IsAlreadyExists(err error) bool { return hasCode(err, ErrCodeAlreadyExists) }

// IsCycleDetected reports whether err is a TV101 error.
func IsCycleDetected(err error) bool { return hasCode(err, ErrCodeCycleDetected) }

// IsDepthExceeded reports whether err is a TV102 error.
func IsDepthExceeded(err error) bool { return hasCode(err, ErrCodeDepthExceeded) }

// IsDependentsExist reports whether err is a TV104 error.
func IsDependentsExist(err error) bool { return hasCode(err, ErrCodeDependentsExist) }

// IsCascadeDepthExceeded returns true if the error is a cascade depth error.
// Matches both RuntimeError with ErrCodeCascadeDepthExceeded and
// CascadeDepthError.
func IsCascadeDepthExceeded(err error) bool {
	if hasCode(err, ErrCodeCascadeDepthExceeded) {
		return true
	}
	var de *CascadeDepthError
	return errors.As(err, &de)
}

// IsRefreshFailed reports whether err is a TV202 error.
func IsRefreshFailed(err error) bool { return hasCode(err, ErrCodeRefreshFailed) }

// IsPreparedNotFound reports whether err is a TV302 error.
func IsPreparedNotFound(err error) bool { return hasCode(err, ErrCodePreparedNotFound) }

// IsInternal reports whether err is a TV901 error.
func IsInternal(err error) bool { return hasCode(err, ErrCodeInternal) }

// ErrTxDone is returned by operations on a committed or rolled back Tx.
var ErrTxDone = errors.New("transaction already finished")

// classify converts errors from the lower layers into a RuntimeError.
// Errors that already carry a code pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}

	out := &RuntimeError{Code: ErrCodeInternal, Message: err.Error(), Err: err}

	var (
		cycle      *graph.CycleError
		depth      *graph.DepthError
		dependents *graph.DependentsError
		cascade    *CascadeDepthError
		batch      *refresh.BatchTooLargeError
		failed     *refresh.Error
		validation *catalog.ValidationError
		cfg        *config.Error
	)
	switch {
	case errors.As(err, &cycle):
		out.Code, out.Entity = ErrCodeCycleDetected, cycle.Entity
		out.Details = map[string]string{"path": strings.Join(cycle.Path, " -> ")}
	case errors.As(err, &depth):
		out.Code, out.Entity = ErrCodeDepthExceeded, depth.Entity
		out.Details = map[string]string{
			"depth": fmt.Sprint(depth.Depth),
			"max":   fmt.Sprint(depth.Max),
		}
	case errors.As(err, &dependents):
		out.Code, out.Entity = ErrCodeDependentsExist, dependents.Entity
		out.Details = map[string]string{"dependents": strings.Join(dependents.Dependents, ",")}
	case errors.As(err, &validation):
		out.Entity = validation.Entity
		out.Code = ErrCodeInvalidName
		if validation.Kind == catalog.KindInvalidLineage {
			out.Code = ErrCodeInvalidLineage
		}
	case errors.As(err, &cascade):
		out.Code = ErrCodeCascadeDepthExceeded
		out.Details = map[string]string{
			"iterations": fmt.Sprint(cascade.Iterations),
			"max_depth":  fmt.Sprint(cascade.MaxDepth),
			"processed":  fmt.Sprint(cascade.Processed),
		}
	case errors.As(err, &batch):
		out.Code, out.Entity = ErrCodeBatchTooLarge, batch.Entity
	case errors.Is(err, store.ErrVersionConflict):
		out.Code = ErrCodeConcurrentModification
		if errors.As(err, &failed) {
			out.Entity, out.PK = failed.Entity, failed.PK
		}
	case errors.Is(err, refresh.ErrUnknownEntity), errors.Is(err, graph.ErrNotFound),
		errors.Is(err, store.ErrEntityNotFound):
		out.Code = ErrCodeMetadataNotFound
		if errors.As(err, &failed) {
			out.Entity = failed.Entity
		}
	case errors.As(err, &failed):
		out.Code, out.Entity, out.PK = ErrCodeRefreshFailed, failed.Entity, failed.PK
	case errors.Is(err, graph.ErrExists), errors.Is(err, store.ErrEntityExists):
		out.Code = ErrCodeAlreadyExists
	case errors.Is(err, queue.ErrUnsupportedVersion):
		out.Code = ErrCodeSerialization
	case errors.As(err, &cfg):
		out.Code = ErrCodeConfig
	}
	return out
}

func newPreparedNotFound(gid string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePreparedNotFound,
		Message: "no prepared transaction snapshot",
		Details: map[string]string{"gid": gid},
	}
}
