package collate

import (
	"math"

	"github.com/roach88/viewkit/internal/ir"
)

// NextAfter returns the next representable float64 after start in the
// direction of direction.
//
//   - NaN in either argument yields NaN
//   - start == direction yields direction
//   - zero steps to the smallest subnormal carrying direction's sign
//   - otherwise the bit pattern moves one unit toward direction
func NextAfter(start, direction float64) float64 {
	return math.Nextafter(start, direction)
}

// RangeForPrefix returns [start, end) bounds selecting every key that has
// key as a structural prefix.
//
// Numbers have no sub-keys, so the range is exactly the value. Strings are
// closed by MaxString. Arrays keep every element but the last literal and
// close the last one recursively. Objects are closed by MaxObject. Null and
// booleans are exact matches, returned as (key, key).
func RangeForPrefix(key ir.Value) (start, end ir.Value) {
	return key, prefixEnd(key)
}

func prefixEnd(key ir.Value) ir.Value {
	switch k := key.(type) {
	case ir.Number:
		return ir.Number(NextAfter(float64(k), math.Inf(1)))
	case ir.String:
		return ir.String(string(k) + MaxString)
	case ir.Array:
		if len(k) == 0 {
			return ir.Array{MaxObject()}
		}
		end := make(ir.Array, len(k))
		copy(end, k)
		end[len(k)-1] = prefixEnd(k[len(k)-1])
		return end
	case ir.Object:
		return MaxObject()
	case nil:
		return ir.Null{}
	default:
		return key
	}
}

// Truncate implements group_level: array keys longer than level are cut to
// their first level elements. Other keys, and level <= 0, are unchanged.
func Truncate(key ir.Value, level int) ir.Value {
	arr, ok := key.(ir.Array)
	if !ok || level <= 0 || len(arr) <= level {
		return key
	}
	out := make(ir.Array, level)
	copy(out, arr[:level])
	return out
}
