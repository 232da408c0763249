package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/viewkit/internal/humanid"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Replace   bool // overwrite existing documents at their current revision
	NoHumanID bool
}

// ImportedDoc is the outcome of writing one document.
type ImportedDoc struct {
	ID      string `json:"id"`
	Rev     string `json:"rev,omitempty"`
	HumanID string `json:"human_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImportResult holds every write outcome.
type ImportResult struct {
	Docs    []ImportedDoc `json:"docs"`
	Written int           `json:"written"`
	Failed  int           `json:"failed"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Write documents from a YAML or JSON file",
		Long: `Write documents from a YAML or JSON file into the store.

The file holds one document or a list of documents. Documents without an
_id get a random UUID; documents without meta.humanId get a fresh human
identifier. An existing document is a conflict unless --replace is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "overwrite existing documents")
	cmd.Flags().BoolVar(&opts.NoHumanID, "no-human-id", false, "do not assign human identifiers")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("reading %s: %v", path, err))
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("%s: %v", path, err))
	}
	formatter.VerboseLog("Read %d document(s) from %s", len(docs), path)

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	result := ImportResult{Docs: make([]ImportedDoc, 0, len(docs))}
	for _, doc := range docs {
		out := importDoc(cmd.Context(), b.store, doc, opts)
		if out.Error != "" {
			result.Failed++
		} else {
			result.Written++
		}
		result.Docs = append(result.Docs, out)
	}

	summary := fmt.Sprintf("%d of %d document(s) failed", result.Failed, len(result.Docs))
	if formatter.Format == "json" {
		if err := formatter.Partial(result, result.Failed, ErrCodeStore, summary); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, d := range result.Docs {
			if d.Error != "" {
				fmt.Fprintf(w, "✗ %s: %s\n", d.ID, d.Error)
				continue
			}
			fmt.Fprintf(w, "✓ %s@%s %s\n", d.ID, d.Rev, d.HumanID)
		}
		fmt.Fprintf(w, "\nWrote %d document(s)\n", result.Written)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, summary)
	}
	return nil
}

func importDoc(ctx context.Context, st store.Store, doc ir.Object, opts *ImportOptions) ImportedDoc {
	if _, ok := doc.Str("_id"); !ok {
		doc["_id"] = ir.String(uuid.NewString())
	}
	if !opts.NoHumanID {
		humanid.Assign(doc, nil)
	}
	id, _ := doc.Str("_id")
	out := ImportedDoc{ID: id}
	out.HumanID, _ = humanid.Of(doc)

	if opts.Replace {
		if _, ok := doc["_rev"]; !ok {
			current, err := st.Get(ctx, id)
			switch {
			case err == nil:
				doc["_rev"] = current["_rev"]
			case store.ReasonOf(err) == store.ReasonDeleted, store.ReasonOf(err) == store.ReasonMissing:
			default:
				out.Error = err.Error()
				return out
			}
		}
	}

	rev, err := st.Put(ctx, doc)
	if err != nil {
		if reason := store.ReasonOf(err); reason != "" {
			out.Error = string(reason)
		} else {
			out.Error = err.Error()
		}
		return out
	}
	out.Rev = rev
	return out
}

// decodeDocuments parses one document or a list of documents. YAML is a
// superset of JSON, so both formats go through the YAML decoder.
func decodeDocuments(data []byte) ([]ir.Object, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}

	var items []interface{}
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("no documents")
	case []interface{}:
		items = v
	default:
		items = []interface{}{v}
	}

	docs := make([]ir.Object, 0, len(items))
	for i, item := range items {
		val, err := ir.FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		obj, ok := val.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("document %d: want an object, got %s", i, val.Kind())
		}
		docs = append(docs, obj)
	}
	return docs, nil
}
