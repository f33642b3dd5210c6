package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tview/internal/engine"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp Envelope
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(&EnvelopeError{Code: "E001", Message: "entity not registered"})
	require.NoError(t, err)

	var resp Envelope
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "entity not registered", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"entity": "order_line", "pk": "42"}
	err := formatter.Error(&EnvelopeError{Code: "TV202", Message: "refresh failed", Details: details})
	require.NoError(t, err)

	var resp Envelope
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("2 entities valid")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 entities valid")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error(&EnvelopeError{Code: "E001", Message: "entity not registered"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "entity not registered")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"entity": "order_line"}
	err := formatter.Error(&EnvelopeError{Code: "E001", Message: "entity not registered", Details: details})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		wantLog  bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Registering %s", "order_line")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Registering order_line")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Envelope{Status: StatusOK, Data: map[string]int{"refreshes": 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"refreshes":3}}`, string(data))

	data, err = json.Marshal(Envelope{Status: StatusError, Error: &EnvelopeError{
		Code:    "E100",
		Message: "definition invalid",
		Details: []string{"order_line.key: required"},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":{"code":"E100","message":"definition invalid","details":["order_line.key: required"]}}`, string(data))
}

func TestOutputFormatter_TextErrorVerboseLocation(t *testing.T) {
	quiet, loud := &bytes.Buffer{}, &bytes.Buffer{}
	e := &EnvelopeError{Code: "TV202", Message: "refresh failed", Entity: "order_summary", PK: 7}

	require.NoError(t, (&OutputFormatter{Format: "text", Writer: quiet}).Error(e))
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: loud, Verbose: true}).Error(e))

	assert.Equal(t, "Error [TV202]: refresh failed\n", quiet.String())
	assert.Equal(t, "Error [TV202]: refresh failed\n  entity: order_summary\n  pk: 7\n", loud.String())
}

type textResult struct{ n int }

func (r textResult) Text(w io.Writer) { fmt.Fprintf(w, "%d things\n", r.n) }

func TestOutputFormatter_TextUsesTexter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(textResult{n: 3}))
	assert.Equal(t, "3 things\n", buf.String())
}

func TestOutputFormatter_FailRuntimeCode(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &engine.RuntimeError{
		Code:    engine.ErrCodeDependentsExist,
		Message: "entity has dependents",
		Details: map[string]string{"dependents": "order_summary"},
	}
	err := formatter.Fail(ExitFailure, "failed to drop order_line", fmt.Errorf("drop: %w", cause))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, cause))

	var resp Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "TV104", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "failed to drop order_line")
	assert.Equal(t, map[string]any{"dependents": "order_summary"}, resp.Error.Details)
	assert.Empty(t, resp.Error.Entity)
}

func TestOutputFormatter_FailCarriesLocation(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &engine.RuntimeError{
		Code:    engine.ErrCodeRefreshFailed,
		Message: "refresh failed",
		Entity:  "order_summary",
		PK:      7,
	}
	err := formatter.Fail(ExitFailure, "commit failed", cause)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TV202", resp.Error.Code)
	assert.Equal(t, "order_summary", resp.Error.Entity)
	assert.Equal(t, int64(7), resp.Error.PK)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_FailCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail(ExitCommandError, "failed to read script", errors.New("no such file"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "Error [E001]: failed to read script: no such file\n", buf.String())
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("Opened %s", "tview.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "Opened tview.db\n", diag.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "inner: cause", WrapExitError(ExitFailure, "inner", errors.New("cause")).Error())
}
