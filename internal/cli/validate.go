package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/compiler"
)

// ValidationIssue is one problem found in a project.
type ValidationIssue struct {
	View    string `json:"view,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Views  int               `json:"views"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <project-dir>",
		Short: "Validate view definitions without compiling them",
		Long: `Validate CUE view and migration definitions without compiling any
function body.

Checks CUE syntax, definition shape, view and reduce names, and builtin
reducer names. Faster than compile for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, projectDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	project, loadErrors := LoadProject(projectDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if project == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", project.FileCount, projectDir)

	issues := ValidateProject(project, formatter)
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			issue := ValidationIssue{Field: "load", Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				issue.Line = loadErr.Pos.Line()
			}
			issues = append(issues, issue)
		}
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	return outputValidateSuccess(formatter, len(project.Views)+len(project.Migrations))
}

// ValidateProject runs the definition checks on every view and migration
// of a loaded project.
func ValidateProject(project *Project, formatter *OutputFormatter) []ValidationIssue {
	var issues []ValidationIssue
	for _, def := range append(project.Views, project.Migrations...) {
		formatter.VerboseLog("Validating view: %s", def.Name)
		if _, ok := def.Reduces[def.Name]; ok {
			issues = append(issues, ValidationIssue{
				View:    def.Name,
				Field:   "reduces." + def.Name,
				Code:    compiler.ErrConflictingReduce,
				Message: (&compiler.ConflictingReduceError{View: def.Name}).Error(),
			})
		}
		for _, verr := range compiler.Validate(def) {
			if verr.Code == compiler.ErrConflictingReduce {
				continue
			}
			issues = append(issues, ValidationIssue{
				View:    def.Name,
				Field:   verr.Field,
				Code:    verr.Code,
				Message: verr.Message,
			})
		}
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, views int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Views: views})
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d definition(s) valid\n", views)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		if issue.View != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s %s: %s\n\n", issue.Code, issue.View, issue.Field, issue.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
