package compiler

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/viewkit/internal/ir"
)

// FuncKind says which slot a function body fills.
type FuncKind int

const (
	MapKind FuncKind = iota
	ReduceKind
)

func (k FuncKind) String() string {
	if k == ReduceKind {
		return "reduce"
	}
	return "map"
}

// Dialect produces the function text a store's view engine executes.
type Dialect interface {
	// Name identifies the dialect in design document metadata.
	Name() string

	// Language is the design document "language" field.
	Language() string

	// Transform compiles one non-builtin function body.
	Transform(kind FuncKind, fn ir.Function) (string, error)
}

// Native compiles Go closures for the embedded store. Closures are
// registered in Registry as a side effect; bare symbol references must
// already be registered.
type Native struct {
	Registry *ir.Registry
}

// Name implements Dialect.
func (Native) Name() string { return "native" }

// Language implements Dialect.
func (Native) Language() string { return "native" }

// Transform implements Dialect.
func (n Native) Transform(kind FuncKind, fn ir.Function) (string, error) {
	if n.Registry == nil {
		return "", &TransformError{Message: "no registry configured"}
	}
	if fn.Source != "" {
		sym, ok := ir.ParseNativeRef(strings.TrimSpace(fn.Source))
		if !ok {
			return "", &TransformError{Message: "source text cannot run natively; use the javascript dialect"}
		}
		fn = ir.SymbolRef(sym)
	}
	if fn.Symbol == "" {
		return "", &TransformError{Message: "function has no symbol"}
	}

	switch {
	case kind == MapKind && fn.Map != nil, kind == ReduceKind && fn.Reduce != nil:
		if err := n.Registry.Register(fn); err != nil {
			return "", &TransformError{Message: err.Error()}
		}
	case fn.Map != nil || fn.Reduce != nil:
		return "", &TransformError{Message: fmt.Sprintf("symbol %q does not carry a %s closure", fn.Symbol, kind)}
	default:
		var ok bool
		if kind == MapKind {
			_, ok = n.Registry.Map(fn.Symbol)
		} else {
			_, ok = n.Registry.Reduce(fn.Symbol)
		}
		if !ok {
			return "", &TransformError{Message: fmt.Sprintf("no %s closure registered as %q", kind, fn.Symbol)}
		}
	}
	return ir.NativeRef(fn.Symbol), nil
}

// JSTarget is the language level a CouchDB view server accepts.
type JSTarget string

const (
	// ES2015 matches CouchDB 3.2 and later (SpiderMonkey 91 or QuickJS).
	ES2015 JSTarget = "es2015"
	// ES5 matches older view servers. const, let and generators are
	// rejected because esbuild has no ES5 form for them.
	ES5 JSTarget = "es5"
)

// ParseJSTarget maps a configuration value to a target. Empty means ES2015.
func ParseJSTarget(s string) (JSTarget, error) {
	switch JSTarget(strings.ToLower(strings.TrimSpace(s))) {
	case "", ES2015:
		return ES2015, nil
	case ES5:
		return ES5, nil
	}
	return "", fmt.Errorf("unknown javascript target %q (want es2015 or es5)", s)
}

// JavaScript lowers function source to Target using esbuild. The body must
// be a single function expression. Arrow functions always become function
// expressions; other syntax newer than Target is rewritten when esbuild can
// lower it and rejected otherwise. The zero value targets ES2015.
type JavaScript struct {
	Target JSTarget
}

// Name implements Dialect.
func (JavaScript) Name() string { return "javascript" }

// Language implements Dialect.
func (JavaScript) Language() string { return "javascript" }

func (j JavaScript) target() api.Target {
	if j.Target == ES5 {
		return api.ES5
	}
	return api.ES2015
}

const jsBinding = "var fn = "

// Transform implements Dialect.
func (j JavaScript) Transform(_ FuncKind, fn ir.Function) (string, error) {
	if fn.IsNative() {
		return "", &TransformError{Message: fmt.Sprintf("native closure %q has no JavaScript form", fn.Symbol)}
	}
	src := strings.TrimSpace(fn.Source)
	src = strings.TrimSuffix(src, ";")
	if src == "" {
		return "", &TransformError{Message: "empty function source"}
	}

	// Binding the body forces it to parse as one expression. The wrapper
	// only shifts columns on the first line.
	res := api.Transform(jsBinding+"("+src+"\n);", api.TransformOptions{
		Loader: api.LoaderJS,
		Target: j.target(),
		// A view server evaluates the stored text as a function expression.
		Supported: map[string]bool{"arrow": false},
	})
	if len(res.Errors) > 0 {
		msg := res.Errors[0]
		te := &TransformError{Message: msg.Text}
		if msg.Location != nil {
			te.Line = msg.Location.Line
			te.Column = msg.Location.Column
			if te.Line == 1 {
				te.Column -= len(jsBinding) + 1
			}
		}
		return "", te
	}

	out, ok := strings.CutPrefix(string(res.Code), jsBinding)
	if ok {
		out, ok = strings.CutSuffix(strings.TrimSpace(out), ";")
	}
	if !ok || !strings.HasPrefix(out, "function") {
		return "", &TransformError{Message: "source must be a single function expression with no runtime helpers"}
	}
	return out, nil
}
