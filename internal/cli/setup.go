package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/ir"
)

// SetupOptions holds flags for the setup command.
type SetupOptions struct {
	*RootOptions
	SkipBuiltin bool
}

// DeployedView is the outcome of deploying one definition.
type DeployedView struct {
	Source string `json:"source"`
	View   string `json:"view"`
	ID     string `json:"id,omitempty"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SetupResult holds every deployment outcome.
type SetupResult struct {
	Views  []DeployedView `json:"views"`
	Failed int            `json:"failed"`
}

// NewSetupCommand creates the setup command.
func NewSetupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile and deploy builtin, project and migration views",
		Long: `Compile every view definition and install it in the store.

Builtin views (ledger, chores, human ids) are deployed unless
--skip-builtin is set: as Go closures to the embedded store, as JavaScript
to a CouchDB server. Project views and migrations are read from
--project-dir.
Definitions deploy concurrently and every outcome is reported; one
failure never stops the others.

Exit codes:
  0 - Every view deployed
  1 - One or more views failed to compile or deploy
  2 - Command error (unreadable project, unreachable store, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipBuiltin, "skip-builtin", false, "deploy only project views and migrations")

	return cmd
}

func runSetup(opts *SetupOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var project *Project
	if dir := opts.Config.ProjectDir; dir != "" {
		p, loadErrors := LoadProject(dir, LoadModeCollectAll)
		if len(loadErrors) > 0 {
			return outputCompileErrors(formatter, loadErrors)
		}
		formatter.VerboseLog("Found %d view(s) and %d migration(s) in %s", len(p.Views), len(p.Migrations), dir)
		project = p
	}

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	var builtin []ir.ViewDefinition
	if !opts.SkipBuiltin {
		builtin = b.BuiltinViews()
	}

	var views, migrations []ir.ViewDefinition
	if project != nil {
		views, migrations = project.Views, project.Migrations
	}

	results := opts.deployer(b).SetupAll(cmd.Context(), builtin, views, migrations)
	return outputSetup(formatter, results)
}

func outputSetup(formatter *OutputFormatter, results []deploy.Result) error {
	out := SetupResult{Views: make([]DeployedView, 0, len(results))}
	for _, r := range results {
		dv := DeployedView{Source: string(r.Source), View: r.View}
		if r.Err != nil {
			dv.Error = describeDeployError(r.Err)
			out.Failed++
		} else {
			dv.ID = r.Doc.ID
			dv.Rev = r.Doc.Rev
		}
		out.Views = append(out.Views, dv)
	}

	summary := fmt.Sprintf("%d of %d view(s) failed to deploy", out.Failed, len(out.Views))
	if formatter.Format == "json" {
		if err := formatter.Partial(out, out.Failed, ErrCodeGeneric, summary); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, v := range out.Views {
			if v.Error != "" {
				fmt.Fprintf(w, "✗ %s %s: %s\n", v.Source, v.View, v.Error)
				continue
			}
			fmt.Fprintf(w, "✓ %s %s → %s@%s\n", v.Source, v.View, v.ID, v.Rev)
		}
		if out.Failed == 0 {
			fmt.Fprintf(w, "\nDeployed %d view(s)\n", len(out.Views))
		}
	}

	if out.Failed > 0 {
		return NewExitError(ExitFailure, summary)
	}
	return nil
}

func describeDeployError(err error) string {
	var conflict *deploy.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("exists at %s (use --conflict update to replace)", conflict.ExistingRev)
	}
	return err.Error()
}
