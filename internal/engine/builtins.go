package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/viewkit/internal/ir"
)

// reducer is the engine-side shape of a reduce function. Builtins may keep
// an internal state representation between passes and convert it to the
// visible result in finalize.
type reducer interface {
	reduce(keys []ir.KeyID, values []ir.Value) (ir.Value, error)
	rereduce(values []ir.Value) (ir.Value, error)
	finalize(v ir.Value) (ir.Value, error)
}

// funcReducer adapts a native ReduceFunc.
type funcReducer ir.ReduceFunc

func (f funcReducer) reduce(keys []ir.KeyID, values []ir.Value) (ir.Value, error) {
	return f(keys, values, false)
}

func (f funcReducer) rereduce(values []ir.Value) (ir.Value, error) {
	return f(nil, values, true)
}

func (funcReducer) finalize(v ir.Value) (ir.Value, error) {
	return v, nil
}

var builtinReducers = map[string]reducer{
	ir.ReduceSum:                 sumReducer{},
	ir.ReduceCount:               countReducer{},
	ir.ReduceStats:               statsReducer{},
	ir.ReduceApproxCountDistinct: distinctReducer{},
}

// sumReducer adds numbers, arrays of numbers element-wise, and objects of
// numbers field-wise.
type sumReducer struct{}

func (sumReducer) reduce(_ []ir.KeyID, values []ir.Value) (ir.Value, error) {
	return sumAll(values)
}

func (sumReducer) rereduce(values []ir.Value) (ir.Value, error) {
	return sumAll(values)
}

func (sumReducer) finalize(v ir.Value) (ir.Value, error) {
	return v, nil
}

func sumAll(values []ir.Value) (ir.Value, error) {
	var acc ir.Value = ir.Number(0)
	for i, v := range values {
		s, err := addValues(acc, v)
		if err != nil {
			return nil, fmt.Errorf("_sum: value %d: %w", i, err)
		}
		acc = s
	}
	return acc, nil
}

func addValues(a, b ir.Value) (ir.Value, error) {
	switch av := a.(type) {
	case ir.Number:
		switch bv := b.(type) {
		case ir.Number:
			return av + bv, nil
		case ir.Array, ir.Object:
			if av == 0 {
				return ir.Clone(bv), nil
			}
		}
	case ir.Array:
		bv, ok := b.(ir.Array)
		if !ok {
			break
		}
		n := max(len(av), len(bv))
		out := make(ir.Array, n)
		for i := 0; i < n; i++ {
			var x, y ir.Value = ir.Number(0), ir.Number(0)
			if i < len(av) {
				x = av[i]
			}
			if i < len(bv) {
				y = bv[i]
			}
			s, err := addValues(x, y)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case ir.Object:
		bv, ok := b.(ir.Object)
		if !ok {
			break
		}
		out := av.Clone()
		for k, y := range bv {
			x, ok := out[k]
			if !ok {
				x = ir.Number(0)
			}
			s, err := addValues(x, y)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot add %s and %s", kind(a), kind(b))
}

func kind(v ir.Value) string {
	if v == nil {
		return "null"
	}
	return v.Kind().String()
}

// countReducer counts leaf rows.
type countReducer struct{}

func (countReducer) reduce(_ []ir.KeyID, values []ir.Value) (ir.Value, error) {
	return ir.Number(len(values)), nil
}

func (countReducer) rereduce(values []ir.Value) (ir.Value, error) {
	var total ir.Number
	for i, v := range values {
		n, ok := v.(ir.Number)
		if !ok {
			return nil, fmt.Errorf("_count: rereduce value %d is %s", i, kind(v))
		}
		total += n
	}
	return total, nil
}

func (countReducer) finalize(v ir.Value) (ir.Value, error) {
	return v, nil
}

// statsReducer computes {sum, count, min, max, sumsqr} over numbers.
// Leaf values may also be pre-aggregated stats objects.
type statsReducer struct{}

type stats struct {
	sum, count, min, max, sumsqr float64
}

func (s stats) value() ir.Object {
	return ir.Object{
		"sum":    ir.Number(s.sum),
		"count":  ir.Number(s.count),
		"min":    ir.Number(s.min),
		"max":    ir.Number(s.max),
		"sumsqr": ir.Number(s.sumsqr),
	}
}

func statsOf(v ir.Value) (stats, error) {
	switch val := v.(type) {
	case ir.Number:
		f := float64(val)
		return stats{sum: f, count: 1, min: f, max: f, sumsqr: f * f}, nil
	case ir.Object:
		var s stats
		fields := []struct {
			name string
			dst  *float64
		}{
			{"sum", &s.sum}, {"count", &s.count}, {"min", &s.min}, {"max", &s.max}, {"sumsqr", &s.sumsqr},
		}
		for _, f := range fields {
			n, ok := val.Num(f.name)
			if !ok {
				return stats{}, fmt.Errorf("_stats: object value missing numeric %q", f.name)
			}
			*f.dst = n
		}
		return s, nil
	default:
		return stats{}, fmt.Errorf("_stats: cannot aggregate %s", kind(v))
	}
}

func mergeStats(values []ir.Value) (ir.Value, error) {
	acc := stats{min: math.Inf(1), max: math.Inf(-1)}
	for _, v := range values {
		s, err := statsOf(v)
		if err != nil {
			return nil, err
		}
		acc.sum += s.sum
		acc.count += s.count
		acc.sumsqr += s.sumsqr
		acc.min = math.Min(acc.min, s.min)
		acc.max = math.Max(acc.max, s.max)
	}
	return acc.value(), nil
}

func (statsReducer) reduce(_ []ir.KeyID, values []ir.Value) (ir.Value, error) {
	return mergeStats(values)
}

func (statsReducer) rereduce(values []ir.Value) (ir.Value, error) {
	return mergeStats(values)
}

func (statsReducer) finalize(v ir.Value) (ir.Value, error) {
	return v, nil
}

// distinctReducer counts distinct keys. Intermediate state is the sorted
// set of canonical key encodings, so the count is exact.
type distinctReducer struct{}

func (distinctReducer) reduce(keys []ir.KeyID, _ []ir.Value) (ir.Value, error) {
	set := make([]string, 0, len(keys))
	for _, k := range keys {
		b, err := ir.MarshalCanonical(k.Key)
		if err != nil {
			return nil, fmt.Errorf("_approx_count_distinct: %w", err)
		}
		set = append(set, string(b))
	}
	return toSet(set), nil
}

func (distinctReducer) rereduce(values []ir.Value) (ir.Value, error) {
	var set []string
	for i, v := range values {
		arr, ok := v.(ir.Array)
		if !ok {
			return nil, fmt.Errorf("_approx_count_distinct: rereduce value %d is %s", i, kind(v))
		}
		for _, el := range arr {
			s, _ := el.(ir.String)
			set = append(set, string(s))
		}
	}
	return toSet(set), nil
}

func (distinctReducer) finalize(v ir.Value) (ir.Value, error) {
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("_approx_count_distinct: unexpected state %s", kind(v))
	}
	return ir.Number(len(arr)), nil
}

func toSet(items []string) ir.Array {
	slices.Sort(items)
	items = slices.Compact(items)
	out := make(ir.Array, len(items))
	for i, s := range items {
		out[i] = ir.String(s)
	}
	return out
}
