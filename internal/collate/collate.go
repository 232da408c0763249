package collate

import (
	"math"
	"strings"

	"github.com/roach88/viewkit/internal/ir"
)

// SuffixLen is how many U+FFFF characters close a string prefix range.
const SuffixLen = 4

// MaxString sorts after every string that does not itself begin with
// SuffixLen U+FFFF characters.
var MaxString = strings.Repeat("\uffff", SuffixLen)

// MaxObject sorts after every object whose smallest key is below MaxString.
func MaxObject() ir.Object {
	return ir.Object{MaxString: ir.String(MaxString)}
}

// Compare returns -1, 0 or 1 as a sorts before, equal to, or after b.
// A nil Value compares as null.
func Compare(a, b ir.Value) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return cmpInt(int(ka), int(kb))
	}

	switch ka {
	case ir.KindNull:
		return 0
	case ir.KindBool:
		return cmpBool(bool(a.(ir.Bool)), bool(b.(ir.Bool)))
	case ir.KindNumber:
		return cmpFloat(float64(a.(ir.Number)), float64(b.(ir.Number)))
	case ir.KindString:
		return ir.CompareUTF16(string(a.(ir.String)), string(b.(ir.String)))
	case ir.KindArray:
		return compareArrays(a.(ir.Array), b.(ir.Array))
	default:
		return compareObjects(a.(ir.Object), b.(ir.Object))
	}
}

// Less reports whether a sorts strictly before b.
func Less(a, b ir.Value) bool {
	return Compare(a, b) < 0
}

// Equal reports whether a and b collate equal.
func Equal(a, b ir.Value) bool {
	return Compare(a, b) == 0
}

func kindOf(v ir.Value) ir.Kind {
	if v == nil {
		return ir.KindNull
	}
	return v.Kind()
}

func compareArrays(a, b ir.Array) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func compareObjects(a, b ir.Object) int {
	ak, bk := a.SortedKeys(), b.SortedKeys()
	n := min(len(ak), len(bk))
	for i := 0; i < n; i++ {
		if c := ir.CompareUTF16(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// cmpFloat orders NaN before every other number so the order stays total.
func cmpFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
