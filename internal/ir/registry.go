package ir

import (
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// NativePrefix marks compiled function text that refers to a registered
// Go closure instead of dialect source.
const NativePrefix = "native:"

// NativeRef returns the compiled text for a native symbol.
func NativeRef(symbol string) string {
	return NativePrefix + symbol
}

// ParseNativeRef extracts the symbol from compiled text produced by NativeRef.
func ParseNativeRef(text string) (string, bool) {
	if !strings.HasPrefix(text, NativePrefix) {
		return "", false
	}
	sym := strings.TrimPrefix(text, NativePrefix)
	return sym, sym != ""
}

// Registry resolves native symbols to Go closures. The compiler registers
// closures while emitting design documents; the embedded store looks them
// up when it executes a view. Safe for concurrent use.
type Registry struct {
	maps    *xsync.MapOf[string, MapFunc]
	reduces *xsync.MapOf[string, ReduceFunc]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		maps:    xsync.NewMapOf[string, MapFunc](),
		reduces: xsync.NewMapOf[string, ReduceFunc](),
	}
}

// Register stores the closure carried by fn under its symbol.
// Re-registering a symbol replaces the previous closure.
func (r *Registry) Register(fn Function) error {
	if fn.Symbol == "" {
		return fmt.Errorf("register: function has no symbol")
	}
	switch {
	case fn.Map != nil:
		r.maps.Store(fn.Symbol, fn.Map)
	case fn.Reduce != nil:
		r.reduces.Store(fn.Symbol, fn.Reduce)
	default:
		return fmt.Errorf("register %s: no closure", fn.Symbol)
	}
	return nil
}

// Map returns the map closure registered under symbol.
func (r *Registry) Map(symbol string) (MapFunc, bool) {
	return r.maps.Load(symbol)
}

// Reduce returns the reduce closure registered under symbol.
func (r *Registry) Reduce(symbol string) (ReduceFunc, bool) {
	return r.reduces.Load(symbol)
}
