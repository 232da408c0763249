package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/viewkit/internal/ir"
)

// ParseView parses a CUE value into a ViewDefinition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the view struct itself; its label is the view name:
//
//	view: by_type: {
//		map:    {native: "by_type"}
//		reduce: "_count"
//		reduces: total: "_sum"
//	}
//
// A function is a string (JavaScript source or a builtin reducer name) or
// {native: "<symbol>"} naming a registered Go closure.
func ParseView(v cue.Value) (ir.ViewDefinition, error) {
	if err := v.Err(); err != nil {
		return ir.ViewDefinition{}, formatCUEError(err)
	}

	def := ir.ViewDefinition{Name: label(v)}

	mapVal := v.LookupPath(cue.ParsePath("map"))
	if !mapVal.Exists() {
		return def, &CompileError{Field: "map", Message: "map is required", Pos: v.Pos()}
	}
	fn, err := parseFunction("map", mapVal)
	if err != nil {
		return def, err
	}
	def.Map = fn

	if rv := v.LookupPath(cue.ParsePath("reduce")); rv.Exists() {
		fn, err := parseFunction("reduce", rv)
		if err != nil {
			return def, err
		}
		def.Reduce = &fn
	}

	if rv := v.LookupPath(cue.ParsePath("reduces")); rv.Exists() {
		iter, err := rv.Fields()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Reduces = map[string]ir.Function{}
		for iter.Next() {
			fn, err := parseFunction("reduces."+iter.Label(), iter.Value())
			if err != nil {
				return def, err
			}
			def.Reduces[iter.Label()] = fn
		}
	}

	if ov := v.LookupPath(cue.ParsePath("options")); ov.Exists() {
		opts, err := parseOptions(ov)
		if err != nil {
			return def, err
		}
		def.Options = opts
	}

	return def, nil
}

// ParseMigration parses a CUE migration into its view definition.
// Migrations carry only a map; the reduce is always the _count cardinality
// check.
//
//	migration: add_kind: {
//		map: "function (doc) { if (!doc.kind) emit(doc._id, {op: 'update', doc: ...}) }"
//	}
func ParseMigration(v cue.Value) (ir.ViewDefinition, error) {
	if err := v.Err(); err != nil {
		return ir.ViewDefinition{}, formatCUEError(err)
	}
	for _, field := range []string{"reduce", "reduces"} {
		if v.LookupPath(cue.ParsePath(field)).Exists() {
			return ir.ViewDefinition{}, &CompileError{
				Field:   field,
				Message: "migrations always reduce with _count",
				Pos:     v.Pos(),
			}
		}
	}

	def, err := ParseView(v)
	if err != nil {
		return def, err
	}
	count := ir.Builtin(ir.ReduceCount)
	def.Reduce = &count
	return def, nil
}

func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].String()
}

func parseFunction(field string, v cue.Value) (ir.Function, error) {
	if s, err := v.String(); err == nil {
		return ir.Source(s), nil
	}

	nv := v.LookupPath(cue.ParsePath("native"))
	if nv.Exists() {
		sym, err := nv.String()
		if err != nil {
			return ir.Function{}, formatCUEError(err)
		}
		return ir.SymbolRef(sym), nil
	}

	return ir.Function{}, &CompileError{
		Field:   field,
		Message: "must be a source string or {native: \"<symbol>\"}",
		Pos:     v.Pos(),
	}
}

func parseOptions(v cue.Value) (ir.Object, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.Decode(raw)
	if err != nil {
		return nil, &CompileError{Field: "options", Message: err.Error(), Pos: v.Pos()}
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, &CompileError{Field: "options", Message: fmt.Sprintf("must be a struct, got %s", val.Kind()), Pos: v.Pos()}
	}
	return obj, nil
}
