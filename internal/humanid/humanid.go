package humanid

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

// View names. Each is its own design document because the two indexes
// use different map functions.
const (
	ByIDView     = "humanid_by_id"
	PrefixesView = "humanid_prefixes"

	// PrefixCount is the grouped _count subview of PrefixesView.
	PrefixCount = "count"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns a fresh human identifier: the lowercase base32 form of a
// random UUID.
func New() string {
	id := uuid.New()
	return strings.ToLower(encoding.EncodeToString(id[:]))
}

// Of returns the human identifier stored in doc, if any.
func Of(doc ir.Object) (string, bool) {
	meta, ok := doc.Obj("meta")
	if !ok {
		return "", false
	}
	hid, ok := meta.Str("humanId")
	return hid, ok && hid != ""
}

// Generator produces human identifiers.
type Generator interface {
	Generate() string
}

// RandomGenerator generates identifiers with New.
type RandomGenerator struct{}

// Generate implements Generator.
func (RandomGenerator) Generate() string { return New() }

// Assign sets meta.humanId on doc unless one is already present, and
// reports whether it did. A nil gen uses RandomGenerator.
func Assign(doc ir.Object, gen Generator) bool {
	if _, ok := Of(doc); ok {
		return false
	}
	if gen == nil {
		gen = RandomGenerator{}
	}
	meta, ok := doc.Obj("meta")
	if !ok {
		meta = ir.Object{}
	}
	meta["humanId"] = ir.String(gen.Generate())
	doc["meta"] = meta
	return true
}

func mapByID(doc ir.Object, emit ir.Emit) error {
	if hid, ok := Of(doc); ok {
		emit(doc["_id"], ir.String(hid))
	}
	return nil
}

func mapPrefixes(doc ir.Object, emit ir.Emit) error {
	hid, ok := Of(doc)
	if !ok {
		return nil
	}
	for _, p := range prefixes(hid) {
		emit(ir.String(p), nil)
	}
	return nil
}

// Views returns the builtin views identifier resolution queries.
func Views() []ir.ViewDefinition {
	return []ir.ViewDefinition{
		{
			Name: ByIDView,
			Map:  ir.NativeMap("humanid.by_id", mapByID),
		},
		{
			Name: PrefixesView,
			Map:  ir.NativeMap("humanid.prefixes", mapPrefixes),
			Reduces: map[string]ir.Function{
				PrefixCount: ir.Builtin(ir.ReduceCount),
			},
		},
	}
}

// prefixes returns every non-empty prefix of s by rune, shortest first.
func prefixes(s string) []string {
	out := make([]string, 0, len(s))
	for i := range s {
		if i > 0 {
			out = append(out, s[:i])
		}
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// NoUniquePrefixError means every prefix of HumanID, including the full
// string, is shared with another document.
type NoUniquePrefixError struct {
	HumanID string
}

// Error implements the error interface.
func (e *NoUniquePrefixError) Error() string {
	return fmt.Sprintf("no unique prefix for human id %q", e.HumanID)
}

// ViewMissingError means a supporting index is not deployed. Callers can
// react by redeploying the builtin views.
type ViewMissingError struct {
	Design string
	View   string
	Err    error
}

// Error implements the error interface.
func (e *ViewMissingError) Error() string {
	return fmt.Sprintf("view %s/%s is not deployed: %v", e.Design, e.View, e.Err)
}

// Unwrap returns the underlying store error.
func (e *ViewMissingError) Unwrap() error {
	return e.Err
}

// IsViewMissing reports whether err is a *ViewMissingError.
func IsViewMissing(err error) bool {
	var vm *ViewMissingError
	return errors.As(err, &vm)
}

// Lookup is one resolved identifier. Found is false when the document has
// no human identifier in the index.
type Lookup struct {
	ID      string
	HumanID string
	Found   bool
}

// Resolver maps document ids to human identifiers through the builtin
// views.
type Resolver struct {
	store store.Store
}

// NewResolver creates a Resolver querying st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

func (r *Resolver) query(ctx context.Context, view, subview string, q queryir.Query) ([]ir.Row, error) {
	design := ir.DesignID(view)
	rows, err := r.store.QueryView(ctx, design, subview, q)
	if store.IsViewMissing(err) {
		return nil, &ViewMissingError{Design: design, View: subview, Err: err}
	}
	return rows, err
}

// ResolveHumanIDs returns one Lookup per id, in input order.
//
// It issues a single keys query and merges the result in lockstep with the
// input: the store returns rows in request order with no placeholder for
// ids that have none, so the row pointer only advances on a match.
func (r *Resolver) ResolveHumanIDs(ctx context.Context, ids []string) ([]Lookup, error) {
	out := make([]Lookup, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]ir.Value, len(ids))
	for i, id := range ids {
		keys[i] = ir.String(id)
	}
	rows, err := r.query(ctx, ByIDView, ir.DefaultView, queryir.ForKeys(keys...))
	if err != nil {
		return nil, fmt.Errorf("resolve human ids: %w", err)
	}

	j := 0
	for i, id := range ids {
		out[i].ID = id
		if j >= len(rows) {
			continue
		}
		key, _ := rows[j].Key.(ir.String)
		if string(key) != id {
			continue
		}
		hid, _ := rows[j].Value.(ir.String)
		out[i].HumanID = string(hid)
		out[i].Found = true
		j++
	}
	return out, nil
}

// MinimalUniquePrefix returns the shortest prefix of hid that only one
// document's human identifier starts with.
func (r *Resolver) MinimalUniquePrefix(ctx context.Context, hid string) (string, error) {
	ps := prefixes(hid)
	keys := make([]ir.Value, len(ps))
	for i, p := range ps {
		keys[i] = ir.String(p)
	}

	rows, err := r.query(ctx, PrefixesView, PrefixCount, queryir.ForKeys(keys...).Grouped())
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if n, ok := row.Value.(ir.Number); ok && n == 1 {
			p, _ := row.Key.(ir.String)
			return string(p), nil
		}
	}
	return "", &NoUniquePrefixError{HumanID: hid}
}

// ShortenForHumans resolves ids and shortens each human identifier to its
// minimal unique prefix. Holes and duplicates are preserved.
func (r *Resolver) ShortenForHumans(ctx context.Context, ids []string) ([]Lookup, error) {
	lookups, err := r.ResolveHumanIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, l := range lookups {
		if !l.Found {
			continue
		}
		short, err := r.MinimalUniquePrefix(ctx, l.HumanID)
		if err != nil {
			return nil, fmt.Errorf("shorten %s: %w", l.ID, err)
		}
		lookups[i].HumanID = short
	}
	return lookups, nil
}
