package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/viewkit/internal/ir"
)

// Validate checks a definition without compiling any function body.
// Returns all errors found (does not fail-fast).
func Validate(def ir.ViewDefinition) ValidationErrors {
	var errs ValidationErrors

	switch {
	case strings.TrimSpace(def.Name) == "":
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "view name is required",
			Code:    ErrViewNameEmpty,
		})
	case strings.ContainsAny(def.Name, "/ \t\n"):
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("view name %q must not contain '/' or whitespace", def.Name),
			Code:    ErrViewNameInvalid,
		})
	case def.Name == ir.DefaultView && def.Reduce != nil:
		errs = append(errs, ValidationError{
			Field:   "reduce",
			Message: fmt.Sprintf("a view named %q cannot take a single reduce; use named reduces", ir.DefaultView),
			Code:    ErrReduceNameInvalid,
		})
	}

	switch {
	case def.Map.IsZero():
		errs = append(errs, ValidationError{
			Field:   "map",
			Message: "map function is required",
			Code:    ErrMapMissing,
		})
	case def.Map.Builtin != "":
		errs = append(errs, ValidationError{
			Field:   "map",
			Message: fmt.Sprintf("builtin %q can only be used as a reduce", def.Map.Builtin),
			Code:    ErrMapBuiltin,
		})
	}

	if def.Reduce != nil {
		errs = append(errs, validateReduce("reduce", *def.Reduce)...)
	}

	for _, name := range sortedReduceNames(def.Reduces) {
		field := "reduces." + name
		switch {
		case name == def.Name:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "named reduce shares the view's own name",
				Code:    ErrConflictingReduce,
			})
		case name == ir.DefaultView || name == "":
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%q is reserved for the unreduced subview", ir.DefaultView),
				Code:    ErrReduceNameInvalid,
			})
		}
		errs = append(errs, validateReduce(field, def.Reduces[name])...)
	}

	return errs
}

func validateReduce(field string, fn ir.Function) []ValidationError {
	switch {
	case fn.IsZero():
		return []ValidationError{{Field: field, Message: "reduce has no body", Code: ErrReduceEmpty}}
	case fn.Builtin != "" && !ir.BuiltinReducers[fn.Builtin]:
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("unknown builtin reducer %q", fn.Builtin),
			Code:    ErrUnknownBuiltin,
		}}
	}
	return nil
}

func sortedReduceNames(reduces map[string]ir.Function) []string {
	names := make([]string, 0, len(reduces))
	for name := range reduces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Compile converts a view definition into a design document.
//
// A named reduce sharing the view's name fails with
// *ConflictingReduceError; other definition problems fail with
// ValidationErrors. Both are reported before any body is transformed. A body
// the dialect rejects fails the whole compile with *TransformError.
//
// Compiling the same definition twice yields identical documents.
func Compile(def ir.ViewDefinition, d Dialect) (*ir.DesignDoc, error) {
	if _, ok := def.Reduces[def.Name]; ok && def.Name != "" {
		return nil, &ConflictingReduceError{View: def.Name}
	}
	if errs := Validate(def); len(errs) > 0 {
		return nil, errs
	}

	mapText, err := transform(d, def.Name, ir.DefaultView, MapKind, def.Map)
	if err != nil {
		return nil, err
	}

	views := map[string]ir.CompiledView{
		ir.DefaultView: {Map: mapText, Options: def.Options},
	}
	addReduce := func(subview string, fn ir.Function) error {
		text, err := transform(d, def.Name, subview, ReduceKind, fn)
		if err != nil {
			return err
		}
		views[subview] = ir.CompiledView{Map: mapText, Reduce: text, Options: def.Options}
		return nil
	}

	if def.Reduce != nil {
		if err := addReduce(def.Name, *def.Reduce); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedReduceNames(def.Reduces) {
		if err := addReduce(name, def.Reduces[name]); err != nil {
			return nil, err
		}
	}

	doc := &ir.DesignDoc{
		ID:       ir.DesignID(def.Name),
		Language: d.Language(),
		Views:    views,
		Meta: ir.DesignMeta{
			Format:  ir.FormatVersion,
			Tool:    ir.ToolVersion,
			Dialect: d.Name(),
		},
	}
	digest, err := ir.DesignDigest(doc)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", def.Name, err)
	}
	doc.Meta.Digest = digest
	return doc, nil
}

// transform compiles one body, passing builtins through.
func transform(d Dialect, view, subview string, kind FuncKind, fn ir.Function) (string, error) {
	if fn.Builtin != "" {
		return fn.Builtin, nil
	}
	text, err := d.Transform(kind, fn)
	if err == nil {
		return text, nil
	}

	var te *TransformError
	if !errors.As(err, &te) {
		te = &TransformError{Message: err.Error()}
	}
	te.View = view
	te.Subview = subview
	te.Dialect = d.Name()
	return "", te
}
