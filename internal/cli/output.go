package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/tview/internal/engine"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // an engine operation or scenario failed, or health is degraded
	ExitCommandError = 2 // bad arguments, unreadable files, database cannot be opened
)

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrCodeCommand is reported for command errors that carry no engine code.
const ErrCodeCommand = "E001"

// ExitError carries the process exit code of a failed command. The
// failure has already been reported on the command's output.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, ExitFailure when
// there is none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Texter is implemented by results with a human-readable rendering.
type Texter interface {
	Text(w io.Writer)
}

// Envelope is the document every command writes with --format json.
type Envelope struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes a failure. Engine failures keep their TVxxx
// code and the entity and key they concern.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
	PK      int64  `json:"pk,omitempty"`
	Details any    `json:"details,omitempty"`
}

// runtimeError builds the envelope error for a failed operation.
func runtimeError(message string, err error) *EnvelopeError {
	out := &EnvelopeError{Code: ErrCodeCommand, Message: message}
	if err != nil {
		out.Message = fmt.Sprintf("%s: %v", message, err)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		out.Code = string(re.Code)
		out.Entity, out.PK = re.Entity, re.PK
		if len(re.Details) > 0 {
			out.Details = re.Details
		}
	}
	return out
}

// OutputFormatter writes command results as text or as an Envelope.
// Diagnostics go to ErrWriter so they never mix with JSON output.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Success writes data. In text mode a Texter renders itself.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: StatusOK, Data: data})
	}
	if t, ok := data.(Texter); ok {
		t.Text(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes e. Text mode shows the entity, key and details only when
// verbose.
func (f *OutputFormatter) Error(e *EnvelopeError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: StatusError, Error: e})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if !f.Verbose {
		return nil
	}
	if e.Entity != "" {
		fmt.Fprintf(f.Writer, "  entity: %s\n", e.Entity)
	}
	if e.PK != 0 {
		fmt.Fprintf(f.Writer, "  pk: %d\n", e.PK)
	}
	if e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail reports err and returns it wrapped in an ExitError with code exit.
func (f *OutputFormatter) Fail(exit int, message string, err error) error {
	if outErr := f.Error(runtimeError(message, err)); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog writes a diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.diag(), format+"\n", args...)
}

func (f *OutputFormatter) diag() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
