package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/migrate"
)

// MigrationOutcome is the result of one migration run.
type MigrationOutcome struct {
	Migration string            `json:"migration"`
	Applied   int               `json:"applied"`
	Rejected  []string          `json:"rejected,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// MigrateResult holds every migration outcome.
type MigrateResult struct {
	Migrations []MigrationOutcome `json:"migrations"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [migration]...",
		Short: "Apply view-expressed migrations",
		Long: `Apply migrations: views whose map emits one update or delete intent
per document that still needs changing.

With no arguments every known migration runs: the builtin ones when the
store is embedded, then those in --project-dir. Intents are read in
pages of --batch-size; a document with more than one intent is skipped
and reported, and a failed write is reported without stopping the run.
Migrated documents stop emitting, so an interrupted run can be repeated.

Exit codes:
  0 - Every intent applied
  1 - Some documents were rejected or failed to write
  2 - Command error (unknown migration, lock held, unreachable store)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, names []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	var known []ir.ViewDefinition
	if b.Native() {
		known = append(known, builtinMigrations()...)
	}
	if dir := opts.Config.ProjectDir; dir != "" {
		project, loadErrors := LoadProject(dir, LoadModeCollectAll)
		if len(loadErrors) > 0 {
			return outputCompileErrors(formatter, loadErrors)
		}
		known = append(known, project.Migrations...)
	}

	selected, err := selectMigrations(known, names)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error())
	}

	lockFile := opts.Config.LockFile
	if lockFile == "" && b.path != "" && b.path != ":memory:" {
		lockFile = b.path + ".lock"
	}
	runnerOpts := []migrate.Option{
		migrate.WithBatchSize(opts.Config.BatchSize),
		migrate.WithLogger(opts.Logger),
	}
	if lockFile != "" {
		runnerOpts = append(runnerOpts, migrate.WithLockFile(lockFile))
	}
	runner := migrate.NewRunner(b.store, opts.deployer(b), runnerOpts...)

	result := MigrateResult{Migrations: make([]MigrationOutcome, 0, len(selected))}
	incomplete := 0
	for _, def := range selected {
		formatter.VerboseLog("Applying migration: %s", def.Name)
		res, err := runner.Apply(cmd.Context(), def)
		if errors.Is(err, migrate.ErrLocked) {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("%v (%s)", err, lockFile))
		}
		outcome := MigrationOutcome{Migration: def.Name}
		if res != nil {
			outcome.Applied = res.Applied
			outcome.Rejected = res.Rejected
			for _, f := range res.Failures {
				if outcome.Failures == nil {
					outcome.Failures = map[string]string{}
				}
				outcome.Failures[f.DocID] = f.Err.Error()
			}
		}
		if err != nil {
			outcome.Error = err.Error()
		}
		if outcome.Error != "" || len(outcome.Rejected) > 0 || len(outcome.Failures) > 0 {
			incomplete++
		}
		result.Migrations = append(result.Migrations, outcome)
	}

	summary := fmt.Sprintf("%d of %d migration(s) incomplete", incomplete, len(result.Migrations))
	if formatter.Format == "json" {
		if err := formatter.Partial(result, incomplete, ErrCodeGeneric, summary); err != nil {
			return err
		}
	} else {
		outputMigrateText(formatter, result)
	}

	if incomplete > 0 {
		return NewExitError(ExitFailure, summary)
	}
	return nil
}

// selectMigrations returns the named migrations in argument order, or all
// of them when no names are given.
func selectMigrations(known []ir.ViewDefinition, names []string) ([]ir.ViewDefinition, error) {
	if len(names) == 0 {
		return known, nil
	}
	byName := make(map[string]ir.ViewDefinition, len(known))
	for _, def := range known {
		byName[def.Name] = def
	}
	out := make([]ir.ViewDefinition, 0, len(names))
	for _, name := range names {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown migration %q", name)
		}
		out = append(out, def)
	}
	return out, nil
}

func outputMigrateText(formatter *OutputFormatter, result MigrateResult) {
	w := formatter.Writer
	if len(result.Migrations) == 0 {
		fmt.Fprintln(w, "No migrations.")
		return
	}
	for _, m := range result.Migrations {
		mark := "✓"
		if m.Error != "" || len(m.Rejected) > 0 || len(m.Failures) > 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d applied\n", mark, m.Migration, m.Applied)
		if m.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", m.Error)
		}
		for _, id := range m.Rejected {
			fmt.Fprintf(w, "  rejected %s: more than one intent\n", id)
		}
		ids := make([]string, 0, len(m.Failures))
		for id := range m.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  failed %s: %s\n", id, m.Failures[id])
		}
	}
}
