package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tview/internal/catalog"
)

// Load error codes (E001-E099)
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // Entity definition malformed
)

// LoadError represents an error that occurred while loading definitions.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult contains the entities loaded from CUE, in registration order.
type LoadResult struct {
	Entities  []*catalog.Entity
	FileCount int
}

// LoadDir loads every entity under `entities:` in the CUE package at dir.
// All errors are collected. Entities come back in registration order when
// the definitions are valid as a set.
func LoadDir(dir string, known func(string) bool) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("entities directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing entities directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	result, errs := compileInstance(inst, known)
	if result != nil {
		result.FileCount = len(files)
	}
	return result, errs
}

func compileInstance(inst *build.Instance, known func(string) bool) (*LoadResult, []error) {
	value := cuecontext.New().BuildInstance(inst)
	return compileValue(value, known)
}

// LoadString compiles definitions from CUE source text, as embedded in a
// test scenario.
func LoadString(filename, src string, known func(string) bool) (*LoadResult, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	result, errs := compileValue(value, known)
	if result != nil {
		result.FileCount = 1
	}
	return result, errs
}

func compileValue(value cue.Value, known func(string) bool) (*LoadResult, []error) {
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	var errs []error
	result := &LoadResult{}
	entitiesVal := value.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no entities found"}}
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating entities: %v", err)}}
	}
	for iter.Next() {
		ent, err := CompileEntity(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "entities."+iter.Selector().String()))
			continue
		}
		result.Entities = append(result.Entities, ent)
	}
	if len(errs) > 0 {
		return result, errs
	}

	for _, verr := range Validate(result.Entities, known) {
		errs = append(errs, verr)
	}
	if len(errs) > 0 {
		return result, errs
	}
	ordered, err := RegistrationOrder(result.Entities)
	if err != nil {
		return result, []error{err}
	}
	result.Entities = ordered
	return result, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	if ce, ok := err.(*CompileError); ok {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s.%s: %s", context, ce.Field, ce.Message),
			Pos:     ce.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
