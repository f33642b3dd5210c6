package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a cascade test scenario: a schema, a set of derived
// entities, a sequence of transactional steps, and assertions over the
// resulting documents.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup is SQL run before any entity is registered, typically CREATE
	// TABLE statements and seed rows.
	Setup string `yaml:"setup,omitempty"`

	// Entities is inline CUE source with an `entities:` struct.
	Entities string `yaml:"entities,omitempty"`

	// EntitiesDir is a directory of CUE files, relative to the scenario
	// file. Exactly one of Entities and EntitiesDir is set.
	EntitiesDir string `yaml:"entities_dir,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final documents and tables.
	Assertions []Assertion `yaml:"assertions"`

	// Dir is the directory the scenario was loaded from.
	Dir string `yaml:"-"`
}

// Step is one operation. Exactly one operation field is set.
type Step struct {
	Exec             string `yaml:"exec,omitempty"`
	Commit           bool   `yaml:"commit,omitempty"`
	Rollback         bool   `yaml:"rollback,omitempty"`
	Savepoint        string `yaml:"savepoint,omitempty"`
	RollbackTo       string `yaml:"rollback_to,omitempty"`
	Release          string `yaml:"release,omitempty"`
	Prepare          string `yaml:"prepare,omitempty"`
	CommitPrepared   string `yaml:"commit_prepared,omitempty"`
	RollbackPrepared string `yaml:"rollback_prepared,omitempty"`
	Refresh          string `yaml:"refresh,omitempty"`
	Drop             string `yaml:"drop,omitempty"`
	Restart          bool   `yaml:"restart,omitempty"`

	// ExpectError is the runtime error code the step must fail with
	// (for example TV001). A failing step without it fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpExec             = "exec"
	OpCommit           = "commit"
	OpRollback         = "rollback"
	OpSavepoint        = "savepoint"
	OpRollbackTo       = "rollback_to"
	OpRelease          = "release"
	OpPrepare          = "prepare"
	OpCommitPrepared   = "commit_prepared"
	OpRollbackPrepared = "rollback_prepared"
	OpRefresh          = "refresh"
	OpDrop             = "drop"
	OpRestart          = "restart"
)

// Op returns the step's operation and argument. ok is false unless
// exactly one operation is set.
func (s Step) Op() (op, arg string, ok bool) {
	n := 0
	set := func(name, value string, present bool) {
		if present {
			n++
			op, arg = name, value
		}
	}
	set(OpExec, s.Exec, s.Exec != "")
	set(OpCommit, "", s.Commit)
	set(OpRollback, "", s.Rollback)
	set(OpSavepoint, s.Savepoint, s.Savepoint != "")
	set(OpRollbackTo, s.RollbackTo, s.RollbackTo != "")
	set(OpRelease, s.Release, s.Release != "")
	set(OpPrepare, s.Prepare, s.Prepare != "")
	set(OpCommitPrepared, s.CommitPrepared, s.CommitPrepared != "")
	set(OpRollbackPrepared, s.RollbackPrepared, s.RollbackPrepared != "")
	set(OpRefresh, s.Refresh, s.Refresh != "")
	set(OpDrop, s.Drop, s.Drop != "")
	set(OpRestart, "", s.Restart)
	if n != 1 {
		return "", "", false
	}
	return op, arg, true
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "document": the document of Entity/PK exists and contains Expect
	// - "absent": Entity/PK has no document
	// - "document_count": Entity holds exactly Count documents
	// - "refresh_count": the trace holds exactly Count refreshes with
	//   Action, optionally restricted to Entity
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	Entity string         `yaml:"entity,omitempty"`
	PK     int64          `yaml:"pk,omitempty"`
	Action string         `yaml:"action,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument      = "document"
	AssertAbsent        = "absent"
	AssertDocumentCount = "document_count"
	AssertRefreshCount  = "refresh_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// EntitiesDir is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.Dir = filepath.Dir(path)
	if s.EntitiesDir != "" && !filepath.IsAbs(s.EntitiesDir) {
		s.EntitiesDir = filepath.Join(s.Dir, s.EntitiesDir)
	}
	if s.EntitiesDir != "" {
		if _, err := os.Stat(s.EntitiesDir); err != nil {
			return nil, fmt.Errorf("invalid scenario: entities_dir: %w", err)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml file of dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Entities == "") == (s.EntitiesDir == "") {
		return fmt.Errorf("exactly one of entities and entities_dir is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if _, _, ok := step.Op(); !ok {
			return fmt.Errorf("steps[%d]: exactly one operation is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDocument:
		if a.Entity == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: entity and expect are required for document", index)
		}
	case AssertAbsent:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for absent", index)
		}
	case AssertDocumentCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for document_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for document_count", index)
		}
	case AssertRefreshCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for refresh_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for refresh_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
