package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/patch"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Step, ev.Op, ev.Arg)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%s", ev.Error)
			}
			buf.WriteByte('\n')
			for _, r := range ev.Refreshed {
				fmt.Fprintf(&buf, "      %s %s\n", r.Key, r.Action)
			}
		}
	}
	return buf.String()
}

// assertDocument checks that a document exists and contains every expected
// field (subset match, numbers compared by value).
func assertDocument(result *Result, a Assertion) error {
	doc, ok := lookupDocument(result, a.Entity, a.PK)
	if !ok {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document %s:%d", a.Entity, a.PK),
			Actual:   "document not found",
			Trace:    result.Trace,
		}
	}
	if !matchDocument(doc, a.Expect) {
		want, _ := patch.Canonical(map[string]any(a.Expect))
		got, _ := patch.Canonical(doc)
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("%s:%d to contain %s", a.Entity, a.PK, want),
			Actual:   string(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAbsent checks that a document does not exist.
func assertAbsent(result *Result, a Assertion) error {
	doc, ok := lookupDocument(result, a.Entity, a.PK)
	if !ok {
		return nil
	}
	got, _ := patch.Canonical(doc)
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("no document %s:%d", a.Entity, a.PK),
		Actual:   string(got),
		Trace:    result.Trace,
	}
}

// assertDocumentCount checks the number of documents of an entity.
func assertDocumentCount(result *Result, a Assertion) error {
	actual := len(result.Documents[a.Entity])
	if actual != a.Count {
		return &AssertionError{
			Type:     AssertDocumentCount,
			Expected: fmt.Sprintf("%d documents in %s", a.Count, a.Entity),
			Actual:   fmt.Sprintf("%d documents", actual),
		}
	}
	return nil
}

// assertRefreshCount checks that an action occurs exactly Count times in
// the trace, optionally for one entity only.
func assertRefreshCount(result *Result, a Assertion) error {
	actual := 0
	for _, r := range result.Refreshes() {
		if r.Action != a.Action {
			continue
		}
		if a.Entity != "" && !strings.HasPrefix(r.Key, a.Entity+":") {
			continue
		}
		actual++
	}
	if actual != a.Count {
		scope := "all entities"
		if a.Entity != "" {
			scope = a.Entity
		}
		return &AssertionError{
			Type:     AssertRefreshCount,
			Expected: fmt.Sprintf("%d %s refreshes in %s", a.Count, a.Action, scope),
			Actual:   fmt.Sprintf("%d", actual),
			Trace:    result.Trace,
		}
	}
	return nil
}

func lookupDocument(result *Result, entity string, pk int64) (any, bool) {
	docs, ok := result.Documents[entity]
	if !ok {
		return nil, false
	}
	doc, ok := docs[strconv.FormatInt(pk, 10)]
	return doc, ok
}

// matchDocument reports whether doc is an object holding every field of
// expected. Nested objects in expected match as subsets too.
func matchDocument(doc any, expected map[string]any) bool {
	obj, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	for key, want := range expected {
		got, ok := obj[key]
		if !ok {
			return false
		}
		if wantObj, ok := want.(map[string]any); ok {
			if !matchDocument(got, wantObj) {
				return false
			}
			continue
		}
		if !patch.Equal(got, want) {
			return false
		}
	}
	return true
}

// assertFinalState queries a table and checks the single matching row.
func assertFinalState(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	// Validate table name to prevent SQL injection (identifiers can't be parameterized)
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := eng.Store().DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}
	for key, expectedValue := range assertion.Expect {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from state tables.
// SQLite returns int64 for integers, float64 for reals, and []byte or
// string for text.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		return stateValuesEqual(int64(exp), actual)
	case int64:
		switch act := actual.(type) {
		case int64:
			return exp == act
		case float64:
			return float64(exp) == act
		}
		return false
	case float64:
		switch act := actual.(type) {
		case float64:
			return exp == act
		case int64:
			return exp == float64(act)
		}
		return false
	case bool:
		// SQLite stores booleans as integers
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		act, ok := actual.(bool)
		return ok && exp == act
	}
	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDocument:
			err = assertDocument(result, assertion)
		case AssertAbsent:
			err = assertAbsent(result, assertion)
		case AssertDocumentCount:
			err = assertDocumentCount(result, assertion)
		case AssertRefreshCount:
			err = assertRefreshCount(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
