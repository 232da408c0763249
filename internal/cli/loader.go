package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/ir"
)

// LoadMode controls how errors are handled during project loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Project is the set of view and migration definitions found in a
// directory of CUE files.
type Project struct {
	Views      []ir.ViewDefinition
	Migrations []ir.ViewDefinition
	FileCount  int // Number of CUE files found
}

// LoadError represents an error that occurred during project loading.
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

// LoadProject reads every `view: <name>: {...}` and
// `migration: <name>: {...}` definition from the CUE package in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// A nil Project means the directory itself could not be loaded.
func LoadProject(dir string, mode LoadMode) (*Project, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("project directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing project directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	project := &Project{FileCount: len(cueFiles)}
	var errs []error

	sections := []struct {
		path  string
		parse func(cue.Value) (ir.ViewDefinition, error)
		out   *[]ir.ViewDefinition
	}{
		{"view", compiler.ParseView, &project.Views},
		{"migration", compiler.ParseMigration, &project.Migrations},
	}
	for _, sec := range sections {
		val := value.LookupPath(cue.ParsePath(sec.path))
		if !val.Exists() {
			continue
		}
		iter, err := val.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s definitions: %v", sec.path, err)})
			if mode == LoadModeFailFast {
				return project, errs
			}
			continue
		}
		for iter.Next() {
			def, err := sec.parse(iter.Value())
			if err != nil {
				loadErr := convertCompileError(err, sec.path+"."+iter.Label())
				if sec.path == "migration" && loadErr.Code == ErrCodeBadFunction && isReduceField(err) {
					loadErr.Code = ErrCodeMigrationReduce
				}
				errs = append(errs, loadErr)
				if mode == LoadModeFailFast {
					return project, errs
				}
				continue
			}
			*sec.out = append(*sec.out, def)
		}
	}

	if len(project.Views) == 0 && len(project.Migrations) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no views or migrations found in project"})
	}

	return project, errs
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
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

func isReduceField(err error) bool {
	var compileErr *compiler.CompileError
	return errors.As(err, &compileErr) && (compileErr.Field == "reduce" || compileErr.Field == "reduces")
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStore       = "E008" // Store open or request failed

	// Definition shape errors found while reading CUE
	ErrCodeCUE             = "E010" // CUE evaluation error inside a definition
	ErrCodeBadFunction     = "E011" // Function missing, or neither source text nor {native: ...}
	ErrCodeBadOptions      = "E012" // options is not a struct
	ErrCodeMigrationReduce = "E013" // Migration declares its own reduce

	// Compile errors
	ErrCodeTransform = "E120" // Dialect could not transform a function body
)

// MapFieldToErrorCode maps a compiler error field to an error code.
// Validation codes (E101-E108) come from the compiler itself.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeCUE
	case field == "options":
		return ErrCodeBadOptions
	case field == "map", field == "reduce", strings.HasPrefix(field, "reduces"):
		return ErrCodeBadFunction
	default:
		return ErrCodeGeneric
	}
}
