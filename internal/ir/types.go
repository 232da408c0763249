package ir

import (
	"fmt"
	"strings"
)

// DesignPrefix prefixes the document id of every design document.
const DesignPrefix = "design:"

// DefaultView is the subview that always carries the bare map.
const DefaultView = "default"

// Builtin reducer names. The store implements these natively; they are
// passed through compilation unchanged.
const (
	ReduceSum                 = "_sum"
	ReduceCount               = "_count"
	ReduceStats               = "_stats"
	ReduceApproxCountDistinct = "_approx_count_distinct"
)

// BuiltinReducers lists every reducer name the store accepts verbatim.
var BuiltinReducers = map[string]bool{
	ReduceSum:                 true,
	ReduceCount:               true,
	ReduceStats:               true,
	ReduceApproxCountDistinct: true,
}

// IsBuiltin reports whether src names a store builtin reducer.
func IsBuiltin(src string) bool {
	return strings.HasPrefix(src, "_")
}

// Emit is passed to map functions to produce index rows.
type Emit func(key, value Value)

// MapFunc maps one document to zero or more index rows.
// Returning an error skips the document; it never aborts indexing.
type MapFunc func(doc Object, emit Emit) error

// KeyID identifies the source row of a leaf value passed to a reducer.
type KeyID struct {
	Key Value
	ID  string
}

// ReduceFunc folds values into one. On the leaf pass keys holds the row
// each value came from; on rereduce keys is nil and values are earlier
// reduce outputs.
type ReduceFunc func(keys []KeyID, values []Value, rereduce bool) (Value, error)

// Function is one map or reduce body in a view definition.
// Exactly one of Builtin, a native closure (Symbol with Map or Reduce), or
// Source is set.
type Function struct {
	// Builtin is a store builtin reducer name such as "_count".
	Builtin string

	// Symbol is the stable name a native closure is registered under.
	Symbol string
	Map    MapFunc
	Reduce ReduceFunc

	// Source is dialect source text, compiled as-is by a text dialect.
	Source string
}

// Builtin returns a Function naming a store builtin reducer.
func Builtin(name string) Function {
	return Function{Builtin: name}
}

// NativeMap returns a Function backed by a Go map closure.
func NativeMap(symbol string, fn MapFunc) Function {
	return Function{Symbol: symbol, Map: fn}
}

// NativeReduce returns a Function backed by a Go reduce closure.
func NativeReduce(symbol string, fn ReduceFunc) Function {
	return Function{Symbol: symbol, Reduce: fn}
}

// SymbolRef returns a Function naming a closure registered elsewhere.
func SymbolRef(symbol string) Function {
	return Function{Symbol: symbol}
}

// Source returns a Function carrying dialect source text. A leading
// underscore marks a builtin reducer name, known or not; the compiler
// rejects unknown ones.
func Source(src string) Function {
	if name := strings.TrimSpace(src); IsBuiltin(name) {
		return Builtin(name)
	}
	return Function{Source: src}
}

// IsZero reports whether no body is set.
func (f Function) IsZero() bool {
	return f.Builtin == "" && f.Symbol == "" && f.Source == "" && f.Map == nil && f.Reduce == nil
}

// IsNative reports whether f is a registered Go closure.
func (f Function) IsNative() bool {
	return f.Symbol != ""
}

// ViewDefinition describes one view before compilation.
//
// Reduce and Reduces may both be set: Reduce becomes the subview named after
// the view, each Reduces entry its own subview. A Reduces entry named after
// the view conflicts with that subview and is rejected by the compiler.
type ViewDefinition struct {
	Name    string
	Map     Function
	Reduce  *Function
	Reduces map[string]Function
	Options Object
}

// HasReduce reports whether any reduce is configured.
func (d ViewDefinition) HasReduce() bool {
	return d.Reduce != nil || len(d.Reduces) > 0
}

// DesignDoc is a compiled design document as stored.
type DesignDoc struct {
	ID       string                  `json:"_id"`
	Rev      string                  `json:"_rev,omitempty"`
	Language string                  `json:"language"`
	Views    map[string]CompiledView `json:"views"`
	Meta     DesignMeta              `json:"meta"`
}

// CompiledView is one subview in a design document.
type CompiledView struct {
	Map     string `json:"map"`
	Reduce  string `json:"reduce,omitempty"`
	Options Object `json:"options,omitempty"`
}

// DesignMeta is compiler metadata stored alongside the views.
type DesignMeta struct {
	Digest  string `json:"digest"`
	Format  string `json:"format"`
	Tool    string `json:"tool"`
	Dialect string `json:"dialect"`
}

// DesignID returns the document id for a view named name.
func DesignID(name string) string {
	return DesignPrefix + name
}

// Name returns the view name encoded in the document id.
func (d *DesignDoc) Name() string {
	return strings.TrimPrefix(d.ID, DesignPrefix)
}

func (v CompiledView) toObject() Object {
	obj := Object{"map": String(v.Map)}
	if v.Reduce != "" {
		obj["reduce"] = String(v.Reduce)
	}
	if len(v.Options) > 0 {
		obj["options"] = v.Options
	}
	return obj
}

// ToObject converts the design document into a storable document.
func (d *DesignDoc) ToObject() Object {
	views := make(Object, len(d.Views))
	for name, v := range d.Views {
		views[name] = v.toObject()
	}
	obj := Object{
		"_id":      String(d.ID),
		"language": String(d.Language),
		"views":    views,
		"meta": Object{
			"digest":  String(d.Meta.Digest),
			"format":  String(d.Meta.Format),
			"tool":    String(d.Meta.Tool),
			"dialect": String(d.Meta.Dialect),
		},
	}
	if d.Rev != "" {
		obj["_rev"] = String(d.Rev)
	}
	return obj
}

// DesignDocFromObject parses a stored design document.
func DesignDocFromObject(obj Object) (*DesignDoc, error) {
	id, ok := obj.Str("_id")
	if !ok || !strings.HasPrefix(id, DesignPrefix) {
		return nil, fmt.Errorf("not a design document: _id %q", id)
	}
	doc := &DesignDoc{ID: id, Views: map[string]CompiledView{}}
	doc.Rev, _ = obj.Str("_rev")
	doc.Language, _ = obj.Str("language")

	views, ok := obj.Obj("views")
	if !ok {
		return nil, fmt.Errorf("design document %s: views must be an object", id)
	}
	for name, raw := range views {
		vo, ok := raw.(Object)
		if !ok {
			return nil, fmt.Errorf("design document %s: view %q must be an object", id, name)
		}
		m, ok := vo.Str("map")
		if !ok {
			return nil, fmt.Errorf("design document %s: view %q has no map", id, name)
		}
		cv := CompiledView{Map: m}
		cv.Reduce, _ = vo.Str("reduce")
		cv.Options, _ = vo.Obj("options")
		doc.Views[name] = cv
	}

	if meta, ok := obj.Obj("meta"); ok {
		doc.Meta.Digest, _ = meta.Str("digest")
		doc.Meta.Format, _ = meta.Str("format")
		doc.Meta.Tool, _ = meta.Str("tool")
		doc.Meta.Dialect, _ = meta.Str("dialect")
	}
	return doc, nil
}

// Row is one view result row. ID is empty for reduced rows.
type Row struct {
	ID    string `json:"id,omitempty"`
	Key   Value  `json:"key"`
	Value Value  `json:"value"`
}
