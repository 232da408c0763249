package engine

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/ir"
)

// DefaultChunkSize is how many values one reduce invocation receives.
const DefaultChunkSize = 32

// Engine resolves and runs view programs.
//
// Engine holds no per-query state and is safe for concurrent use as long as
// the registered closures are.
type Engine struct {
	registry  *ir.Registry
	logger    *slog.Logger
	chunkSize int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithChunkSize sets the number of values per reduce invocation.
//
// Default: 32 (DefaultChunkSize). Values below 2 are raised to 2 so rereduce
// always makes progress.
// Use WithChunkSize(2) in tests to force deep rereduce trees.
func WithChunkSize(n int) EngineOption {
	return func(e *Engine) {
		e.chunkSize = max(n, 2)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine resolving native symbols through reg.
func New(reg *ir.Registry, opts ...EngineOption) *Engine {
	if reg == nil {
		reg = ir.NewRegistry()
	}
	e := &Engine{
		registry:  reg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry native symbols resolve through.
func (e *Engine) Registry() *ir.Registry {
	return e.registry
}

// Program is a runnable view.
type Program struct {
	View   string
	Map    ir.MapFunc
	reduce reducer
}

// HasReduce reports whether the program defines a reduce function.
func (p *Program) HasReduce() bool {
	return p.reduce != nil
}

// Emission is one row produced by a map function.
type Emission struct {
	Key   ir.Value
	Value ir.Value
}

// Compile resolves a compiled subview into a Program.
func (e *Engine) Compile(name string, view ir.CompiledView) (*Program, error) {
	sym, ok := ir.ParseNativeRef(view.Map)
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnsupportedLanguage,
			Message: "map function is not a native reference; only native views run locally",
			View:    name,
		}
	}
	mapFn, ok := e.registry.Map(sym)
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnknownSymbol,
			Message: fmt.Sprintf("no map function registered as %q", sym),
			View:    name,
		}
	}

	p := &Program{View: name, Map: mapFn}
	if view.Reduce == "" {
		return p, nil
	}

	if ir.IsBuiltin(view.Reduce) {
		r, ok := builtinReducers[view.Reduce]
		if !ok {
			return nil, &RuntimeError{
				Code:    ErrCodeUnknownBuiltin,
				Message: fmt.Sprintf("unknown builtin reducer %q", view.Reduce),
				View:    name,
			}
		}
		p.reduce = r
		return p, nil
	}

	rsym, ok := ir.ParseNativeRef(view.Reduce)
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnsupportedLanguage,
			Message: "reduce function is not a native reference or builtin",
			View:    name,
		}
	}
	reduceFn, ok := e.registry.Reduce(rsym)
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnknownSymbol,
			Message: fmt.Sprintf("no reduce function registered as %q", rsym),
			View:    name,
		}
	}
	p.reduce = funcReducer(reduceFn)
	return p, nil
}

// Map runs the program's map function over one document.
// A panicking map function is reported as ErrCodeMapFailed.
func (e *Engine) Map(p *Program, docID string, doc ir.Object) (out []Emission, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = NewMapError(p.View, docID, fmt.Errorf("panic: %v", r))
		}
	}()

	emit := func(key, value ir.Value) {
		if key == nil {
			key = ir.Null{}
		}
		if value == nil {
			value = ir.Null{}
		}
		out = append(out, Emission{Key: key, Value: value})
	}
	if err := p.Map(doc, emit); err != nil {
		return nil, NewMapError(p.View, docID, err)
	}
	return out, nil
}

// Reduce folds sorted rows into reduced rows.
//
// With group set, each run of equal keys becomes one row keyed by that key.
// With level > 0, array keys are truncated to level elements before
// grouping. Otherwise all rows fold into a single row with a null key.
// No input rows produce no output rows.
func (e *Engine) Reduce(p *Program, rows []ir.Row, group bool, level int) ([]ir.Row, error) {
	if p.reduce == nil {
		return nil, &RuntimeError{Code: ErrCodeReduceFailed, Message: "view has no reduce function", View: p.View}
	}
	if len(rows) == 0 {
		return []ir.Row{}, nil
	}

	var out []ir.Row
	start := 0
	for start < len(rows) {
		key := groupKey(rows[start].Key, group, level)
		end := start + 1
		for end < len(rows) && collate.Equal(key, groupKey(rows[end].Key, group, level)) {
			end++
		}

		v, err := e.reduceGroup(p, rows[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, ir.Row{Key: key, Value: v})
		start = end
	}

	e.logger.Debug("reduced view rows",
		"view", p.View,
		"rows", len(rows),
		"groups", len(out))
	return out, nil
}

func groupKey(key ir.Value, group bool, level int) ir.Value {
	switch {
	case group:
		return key
	case level > 0:
		return collate.Truncate(key, level)
	default:
		return ir.Null{}
	}
}

// reduceGroup runs the leaf pass over chunks, then rereduces until one
// value remains, preserving left-to-right order throughout.
func (e *Engine) reduceGroup(p *Program, rows []ir.Row) (ir.Value, error) {
	level := make([]ir.Value, 0, len(rows)/e.chunkSize+1)
	for i := 0; i < len(rows); i += e.chunkSize {
		chunk := rows[i:min(i+e.chunkSize, len(rows))]
		keys := make([]ir.KeyID, len(chunk))
		values := make([]ir.Value, len(chunk))
		for j, r := range chunk {
			keys[j] = ir.KeyID{Key: r.Key, ID: r.ID}
			values[j] = r.Value
		}
		v, err := safeReduce(func() (ir.Value, error) { return p.reduce.reduce(keys, values) })
		if err != nil {
			return nil, NewReduceError(p.View, err)
		}
		level = append(level, v)
	}

	for len(level) > 1 {
		next := make([]ir.Value, 0, len(level)/e.chunkSize+1)
		for i := 0; i < len(level); i += e.chunkSize {
			chunk := level[i:min(i+e.chunkSize, len(level))]
			v, err := safeReduce(func() (ir.Value, error) { return p.reduce.rereduce(chunk) })
			if err != nil {
				return nil, NewReduceError(p.View, err)
			}
			next = append(next, v)
		}
		level = next
	}

	v, err := p.reduce.finalize(level[0])
	if err != nil {
		return nil, NewReduceError(p.View, err)
	}
	return v, nil
}

func safeReduce(fn func() (ir.Value, error)) (v ir.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	v, err = fn()
	if err == nil && v == nil {
		v = ir.Null{}
	}
	return v, err
}
