package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofrs/flock"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

// DefaultBatchSize is the number of intents read per page.
const DefaultBatchSize = 100

// Op is the operation an intent asks for.
type Op string

const (
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var (
	applied  = metrics.NewCounter(`viewkit_migrate_applied_total`)
	failed   = metrics.NewCounter(`viewkit_migrate_failures_total`)
	rejected = metrics.NewCounter(`viewkit_migrate_cardinality_rejects_total`)
)

var (
	// ErrLocked means another run holds the migration lock.
	ErrLocked = errors.New("migration lock is held by another run")

	// ErrIntentKey means a migration map emitted a key that is not a
	// document id.
	ErrIntentKey = errors.New("intent key is not a document id")
)

// EmitUpdate emits an intent to replace the document with doc. doc must
// carry _id; a _rev is used as the expected revision.
func EmitUpdate(emit ir.Emit, doc ir.Object) {
	emit(doc["_id"], ir.Object{"op": ir.String(OpUpdate), "doc": doc})
}

// EmitDelete emits an intent to delete doc.
func EmitDelete(emit ir.Emit, doc ir.Object) {
	target := ir.Object{"_id": doc["_id"]}
	if rev, ok := doc["_rev"]; ok {
		target["_rev"] = rev
	}
	emit(doc["_id"], ir.Object{"op": ir.String(OpDelete), "doc": target})
}

// Define returns the view definition of a migration whose map emits
// intents through EmitUpdate or EmitDelete. The _count reduce is the
// cardinality check: exactly one intent per document.
func Define(name string, fn ir.MapFunc) ir.ViewDefinition {
	count := ir.Builtin(ir.ReduceCount)
	return ir.ViewDefinition{
		Name:   name,
		Map:    ir.NativeMap("migration."+name, fn),
		Reduce: &count,
	}
}

// Failure is one document the run could not migrate.
type Failure struct {
	DocID string
	Err   error
}

// Result summarizes one run.
type Result struct {
	Migration string
	Applied   int

	// Rejected lists documents that emitted more than one intent.
	Rejected []string
	Failures []Failure
}

// Runner applies migrations against a store.
type Runner struct {
	store     store.Store
	deployer  *deploy.Deployer
	batchSize int
	lockPath  string
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithBatchSize sets the page size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLockFile serializes runs across processes through a lock on path.
func WithLockFile(path string) Option {
	return func(r *Runner) {
		r.lockPath = path
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner that deploys migration views with d.
func NewRunner(st store.Store, d *deploy.Deployer, opts ...Option) *Runner {
	r := &Runner{
		store:     st,
		deployer:  d,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply deploys def and applies every intent it emits.
//
// Intents are read in key order one page at a time. Per-document failures
// are recorded in the Result and the run continues. Documents already
// migrated stop emitting, so a run that stopped early can simply be
// repeated.
func (r *Runner) Apply(ctx context.Context, def ir.ViewDefinition) (*Result, error) {
	if r.lockPath != "" {
		lock := flock.New(r.lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("migration lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
		defer lock.Unlock()
	}

	res := r.deployer.SetupAll(ctx, nil, nil, []ir.ViewDefinition{def})[0]
	if res.Err != nil {
		return nil, fmt.Errorf("deploy migration %s: %w", def.Name, res.Err)
	}
	design := res.Doc.ID

	result := &Result{Migration: def.Name}
	var after *ir.String
	for {
		rows, err := r.page(ctx, design, after)
		if err != nil {
			return result, err
		}
		if len(rows) == 0 {
			break
		}

		counts, err := r.counts(ctx, design, def.Name, rows)
		if err != nil {
			return result, err
		}
		for _, row := range rows {
			id := keyID(row.Key)
			if counts[id] != 1 {
				if len(result.Rejected) == 0 || result.Rejected[len(result.Rejected)-1] != id {
					result.Rejected = append(result.Rejected, id)
					rejected.Inc()
					r.logger.Warn("migration intent rejected",
						"migration", def.Name,
						"doc_id", id,
						"intents", counts[id])
				}
				continue
			}
			if err := r.applyIntent(ctx, id, row.Value); err != nil {
				result.Failures = append(result.Failures, Failure{DocID: id, Err: err})
				failed.Inc()
				r.logger.Warn("migration write failed",
					"migration", def.Name,
					"doc_id", id,
					"error", err)
				continue
			}
			result.Applied++
			applied.Inc()
		}

		last := rows[len(rows)-1].Key.(ir.String)
		after = &last
		if len(rows) < r.batchSize {
			break
		}
	}

	r.logger.Info("migration applied",
		"migration", def.Name,
		"applied", result.Applied,
		"rejected", len(result.Rejected),
		"failures", len(result.Failures))
	return result, nil
}

// page reads the next intents with keys after the given document id.
// Every intent key must be a document id.
func (r *Runner) page(ctx context.Context, design string, after *ir.String) ([]ir.Row, error) {
	q := queryir.Query{}.Unreduced().Page(0, r.batchSize)
	if after != nil {
		q.Select = queryir.Range{Start: successor(*after)}
	}
	rows, err := r.store.QueryView(ctx, design, ir.DefaultView, q)
	if err != nil {
		return nil, fmt.Errorf("read intents of %s: %w", design, err)
	}
	for _, row := range rows {
		if _, ok := row.Key.(ir.String); !ok {
			return nil, fmt.Errorf("%w: %s emitted key %s", ErrIntentKey, design, keyID(row.Key))
		}
	}
	return rows, nil
}

// counts returns the number of intents per document for the keys in rows.
func (r *Runner) counts(ctx context.Context, design, view string, rows []ir.Row) (map[string]int, error) {
	var keys []ir.Value
	for i, row := range rows {
		if i == 0 || !collate.Equal(row.Key, rows[i-1].Key) {
			keys = append(keys, row.Key)
		}
	}
	reduced, err := r.store.QueryView(ctx, design, view, queryir.ForKeys(keys...).Grouped())
	if err != nil {
		return nil, fmt.Errorf("check intent cardinality of %s: %w", design, err)
	}
	out := make(map[string]int, len(reduced))
	for _, row := range reduced {
		n, _ := row.Value.(ir.Number)
		out[keyID(row.Key)] = int(n)
	}
	return out, nil
}

func (r *Runner) applyIntent(ctx context.Context, id string, v ir.Value) error {
	intent, ok := v.(ir.Object)
	if !ok {
		return fmt.Errorf("intent is %T, want object", v)
	}
	op, _ := intent.Str("op")
	doc, ok := intent.Obj("doc")
	if !ok {
		return fmt.Errorf("intent has no doc")
	}
	doc = doc.Clone()
	doc["_id"] = ir.String(id)

	switch Op(op) {
	case OpUpdate:
	case OpDelete:
		tombstone := ir.Object{"_id": doc["_id"], "_deleted": ir.Bool(true)}
		if rev, ok := doc["_rev"]; ok {
			tombstone["_rev"] = rev
		}
		doc = tombstone
	default:
		return fmt.Errorf("unknown intent op %q", op)
	}

	if _, ok := doc.Str("_rev"); !ok {
		current, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		doc["_rev"] = current["_rev"]
	}
	_, err := r.store.Put(ctx, doc)
	return err
}

// successor returns the smallest string sorting after id.
func successor(id ir.String) ir.String {
	return id + "\x00"
}

func keyID(key ir.Value) string {
	if s, ok := key.(ir.String); ok {
		return string(s)
	}
	b, _ := ir.Marshal(key)
	return string(b)
}
