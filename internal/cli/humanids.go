package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/humanid"
)

// HumanIDEntry is one resolved or shortened identifier.
type HumanIDEntry struct {
	ID      string `json:"id"`
	HumanID string `json:"human_id,omitempty"`
	Found   bool   `json:"found"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return newHumanIDCommand(rootOpts, "resolve",
		"Look up the human identifiers of documents",
		`Look up the full human identifier of each document id.

Results keep the order and duplicates of the arguments; documents with
no human identifier are reported as not found.`,
		func(ctx context.Context, r *humanid.Resolver, ids []string) ([]humanid.Lookup, error) {
			return r.ResolveHumanIDs(ctx, ids)
		})
}

// NewShortenCommand creates the shorten command.
func NewShortenCommand(rootOpts *RootOptions) *cobra.Command {
	return newHumanIDCommand(rootOpts, "shorten",
		"Print the shortest unambiguous human identifier of documents",
		`Print, for each document id, the shortest prefix of its human
identifier that no other document shares.

Results keep the order and duplicates of the arguments; documents with
no human identifier are reported as not found.`,
		func(ctx context.Context, r *humanid.Resolver, ids []string) ([]humanid.Lookup, error) {
			return r.ShortenForHumans(ctx, ids)
		})
}

type lookupFunc func(ctx context.Context, r *humanid.Resolver, ids []string) ([]humanid.Lookup, error)

func newHumanIDCommand(opts *RootOptions, use, short, long string, lookup lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <doc-id>...",
		Short:         short,
		Long:          long,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHumanIDs(opts, cmd, args, lookup)
		},
	}
}

func runHumanIDs(opts *RootOptions, cmd *cobra.Command, ids []string, lookup lookupFunc) error {
	formatter := opts.formatter(cmd)

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	found, err := lookup(cmd.Context(), humanid.NewResolver(b.store), ids)
	if err != nil {
		msg := err.Error()
		if humanid.IsViewMissing(err) {
			msg += " (run viewkit setup)"
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, msg)
	}

	entries := make([]HumanIDEntry, len(found))
	for i, l := range found {
		entries[i] = HumanIDEntry{ID: l.ID, HumanID: l.HumanID, Found: l.Found}
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	for _, e := range entries {
		if !e.Found {
			fmt.Fprintf(formatter.Writer, "%s\t-\n", e.ID)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s\t%s\n", e.ID, e.HumanID)
	}
	return nil
}
