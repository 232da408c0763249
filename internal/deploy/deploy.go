package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
)

// Strategy decides what happens when a design document already exists.
type Strategy string

const (
	// Update overwrites the stored document, carrying its revision forward.
	Update Strategy = "update"

	// UseOld leaves the stored document untouched and returns it.
	UseOld Strategy = "use_old"

	// Fail reports a *ConflictError without writing.
	Fail Strategy = "fail"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Update, UseOld, Fail:
		return Strategy(s), nil
	case "useOld":
		return UseOld, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q (want update, use_old or fail)", s)
}

// ConflictError reports an existing design document under the Fail
// strategy.
type ConflictError struct {
	ID          string
	ExistingRev string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("design document %s already exists at revision %s", e.ID, e.ExistingRev)
}

// Deployer installs compiled design documents into a store.
type Deployer struct {
	store    store.Store
	dialect  compiler.Dialect
	strategy Strategy
	logger   *slog.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the deployer logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) {
		d.logger = l
	}
}

// New creates a Deployer. dialect is used by SetupAll to compile
// definitions.
func New(st store.Store, dialect compiler.Dialect, strategy Strategy, opts ...Option) *Deployer {
	d := &Deployer{
		store:    st,
		dialect:  dialect,
		strategy: strategy,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy installs doc into st using strategy.
func Deploy(ctx context.Context, st store.Store, doc *ir.DesignDoc, strategy Strategy) (*ir.DesignDoc, error) {
	return New(st, nil, strategy).Deploy(ctx, doc)
}

// Deploy installs doc and returns the stored design document.
//
// An absent (or deleted) document is inserted. An existing one is handled
// per strategy; Update skips the write when the stored views already match.
// A write that loses a revision race is retried once against the freshest
// stored document.
func (d *Deployer) Deploy(ctx context.Context, doc *ir.DesignDoc) (*ir.DesignDoc, error) {
	for attempt := 0; ; attempt++ {
		out, err := d.deployOnce(ctx, doc)
		if store.IsConflict(err) && attempt == 0 {
			d.logger.Info("design document changed during deploy, retrying",
				"id", doc.ID)
			continue
		}
		if err != nil {
			countDeploy("error")
			return nil, err
		}
		return out, nil
	}
}

func (d *Deployer) deployOnce(ctx context.Context, doc *ir.DesignDoc) (*ir.DesignDoc, error) {
	raw, err := d.store.Get(ctx, doc.ID)
	if store.IsNotFound(err) {
		return d.put(ctx, doc, "", "created")
	}
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", doc.ID, err)
	}

	existing, err := ir.DesignDocFromObject(raw)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: stored document: %w", doc.ID, err)
	}

	switch d.strategy {
	case UseOld:
		countDeploy("kept")
		d.logger.Debug("design document exists, keeping it", "id", doc.ID, "rev", existing.Rev)
		return existing, nil
	case Fail:
		return nil, &ConflictError{ID: doc.ID, ExistingRev: existing.Rev}
	case Update:
		same, err := sameViews(existing, doc)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", doc.ID, err)
		}
		if same {
			countDeploy("unchanged")
			d.logger.Debug("design document unchanged", "id", doc.ID, "rev", existing.Rev)
			return existing, nil
		}
		return d.put(ctx, doc, existing.Rev, "updated")
	default:
		return nil, fmt.Errorf("deploy %s: unknown conflict strategy %q", doc.ID, d.strategy)
	}
}

func (d *Deployer) put(ctx context.Context, doc *ir.DesignDoc, rev, outcome string) (*ir.DesignDoc, error) {
	out := *doc
	out.Rev = rev
	newRev, err := d.store.Put(ctx, out.ToObject())
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", doc.ID, err)
	}
	out.Rev = newRev

	countDeploy(outcome)
	d.logger.Info("design document deployed",
		"id", doc.ID,
		"rev", newRev,
		"outcome", outcome)
	return &out, nil
}

// sameViews compares view content, ignoring identity and metadata.
func sameViews(a, b *ir.DesignDoc) (bool, error) {
	da, err := ir.DesignDigest(a)
	if err != nil {
		return false, err
	}
	db, err := ir.DesignDigest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func countDeploy(outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`viewkit_deploys_total{outcome=%q}`, outcome)).Inc()
}

// Source says where a definition came from.
type Source string

const (
	SourceBuiltin   Source = "builtin"
	SourceProject   Source = "project"
	SourceMigration Source = "migration"
)

// Result is the outcome of deploying one definition.
type Result struct {
	Source Source
	View   string
	Doc    *ir.DesignDoc
	Err    error
}

// SetupAll compiles and deploys every definition concurrently.
//
// Results come back in input order (builtin, then project, then migration
// definitions). A failing definition never cancels the others.
func (d *Deployer) SetupAll(ctx context.Context, builtin, project, migrations []ir.ViewDefinition) []Result {
	type job struct {
		source Source
		def    ir.ViewDefinition
	}
	var jobs []job
	for _, set := range []struct {
		source Source
		defs   []ir.ViewDefinition
	}{
		{SourceBuiltin, builtin},
		{SourceProject, project},
		{SourceMigration, migrations},
	} {
		for _, def := range set.defs {
			jobs = append(jobs, job{set.source, def})
		}
	}

	out := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := Result{Source: j.source, View: j.def.Name}
			doc, err := compiler.Compile(j.def, d.dialect)
			if err == nil {
				doc, err = d.Deploy(ctx, doc)
			}
			res.Doc, res.Err = doc, err
			if err != nil {
				d.logger.Warn("view setup failed",
					"view", j.def.Name,
					"source", j.source,
					"error", err)
			}
			out[i] = res
		}()
	}
	wg.Wait()
	return out
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
