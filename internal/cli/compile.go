package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // output file path
	Dialect string // "javascript" | "native"
}

// CompilationResult holds the compiled design documents.
type CompilationResult struct {
	Designs []*ir.DesignDoc `json:"designs"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ViewCount      int
	MigrationCount int
	SubviewCount   int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <project-dir>",
		Short: "Compile CUE view definitions to design documents",
		Long: `Compile CUE view and migration definitions to design documents.

The compiler validates each definition, transforms every function body
with the chosen dialect and prints the design documents it would deploy.
Output is byte-identical across runs for the same input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "javascript", "function dialect (javascript|native)")

	return cmd
}

func runCompile(opts *CompileOptions, projectDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dialect, err := dialectByName(opts.Dialect, opts.Config.JSTarget)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	// Use shared loader with collect-all mode
	project, loadErrors := LoadProject(projectDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if project == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", project.FileCount, projectDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{}
	var compileErrors []error
	for _, def := range append(project.Views, project.Migrations...) {
		formatter.VerboseLog("Compiling view: %s", def.Name)
		doc, err := compiler.Compile(def, dialect)
		if err != nil {
			compileErrors = append(compileErrors, err)
			continue
		}
		result.Designs = append(result.Designs, doc)
	}
	if len(compileErrors) > 0 {
		return outputCompileErrors(formatter, compileErrors)
	}
	sort.Slice(result.Designs, func(i, j int) bool {
		return result.Designs[i].ID < result.Designs[j].ID
	})

	stats := CompilationStats{
		ViewCount:      len(project.Views),
		MigrationCount: len(project.Migrations),
	}
	for _, doc := range result.Designs {
		stats.SubviewCount += len(doc.Views)
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeDesignsToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// dialectByName returns the dialect compile targets. The native dialect
// resolves symbols against the closures built into this binary.
func dialectByName(name string, target compiler.JSTarget) (compiler.Dialect, error) {
	switch name {
	case "javascript", "js":
		return compiler.JavaScript{Target: target}, nil
	case "native":
		reg := ir.NewRegistry()
		if err := registerNative(reg, append(builtinViews(), builtinMigrations()...)...); err != nil {
			return nil, err
		}
		return compiler.Native{Registry: reg}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q: must be javascript or native", name)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d view(s), %d migration(s)\n\n",
		stats.ViewCount, stats.MigrationCount)

	if len(result.Designs) > 0 {
		fmt.Fprintln(formatter.Writer, "Design documents:")
		for _, doc := range result.Designs {
			names := make([]string, 0, len(doc.Views))
			for name := range doc.Views {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(formatter.Writer, "  %s (%s): %v\n", doc.ID, doc.Language, names)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote %d design document(s) to %s\n", len(result.Designs), outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Compilation errors are command-level errors (exit code 2)
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Code, err.Error()
	}
	var conflict *compiler.ConflictingReduceError
	if errors.As(err, &conflict) {
		return compiler.ErrConflictingReduce, err.Error()
	}
	var transform *compiler.TransformError
	if errors.As(err, &transform) {
		return ErrCodeTransform, err.Error()
	}
	return ErrCodeGeneric, err.Error()
}

// writeDesignsToFile writes the compiled design documents to a file.
func writeDesignsToFile(result *CompilationResult, filename string) error {
	// Indented for readability; digests are computed over canonical JSON
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling design documents: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
