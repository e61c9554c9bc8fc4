// Package resources models resource demand: kinds, quantity vectors,
// named capabilities and order-independent capability sets.
package resources

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind identifies a resource dimension (e.g. "cpu", "conn", "mem").
type Kind string

const (
	CPU  Kind = "cpu"
	Conn Kind = "conn"
	Mem  Kind = "mem"
)

// Quantities is a per-kind integer amount. Methods never mutate the receiver.
type Quantities map[Kind]int64

// Clone returns an independent copy. A nil receiver yields an empty map.
func (q Quantities) Clone() Quantities {
	out := make(Quantities, len(q))
	maps.Copy(out, q)
	return out
}

// Add returns q + o.
func (q Quantities) Add(o Quantities) Quantities {
	out := q.Clone()
	for k, v := range o {
		out[k] += v
	}
	return out
}

// Sub returns q - o. Kinds that drop to zero are removed.
func (q Quantities) Sub(o Quantities) Quantities {
	out := q.Clone()
	for k, v := range o {
		out[k] -= v
		if out[k] == 0 {
			delete(out, k)
		}
	}
	return out
}

// Fits reports whether used + q stays within limits for every kind.
// A kind missing from limits has a limit of zero.
func (q Quantities) Fits(used, limits Quantities) bool {
	for k, v := range q {
		if v <= 0 {
			continue
		}
		if used[k]+v > limits[k] {
			return false
		}
	}
	return true
}

// Exceeds returns the kinds, sorted, for which q is above limits.
func (q Quantities) Exceeds(limits Quantities) []Kind {
	var over []Kind
	for k, v := range q {
		if v > limits[k] {
			over = append(over, k)
		}
	}
	slices.Sort(over)
	return over
}

// Negative returns the kinds, sorted, holding a negative amount.
func (q Quantities) Negative() []Kind {
	var neg []Kind
	for k, v := range q {
		if v < 0 {
			neg = append(neg, k)
		}
	}
	slices.Sort(neg)
	return neg
}

// IsZero reports whether every amount is zero.
func (q Quantities) IsZero() bool {
	for _, v := range q {
		if v != 0 {
			return false
		}
	}
	return true
}

// Kinds returns the kinds present in q, sorted.
func (q Quantities) Kinds() []Kind {
	return slices.Sorted(maps.Keys(q))
}

// String renders q deterministically, e.g. "{conn=400, cpu=1}".
func (q Quantities) String() string {
	parts := make([]string, 0, len(q))
	for _, k := range q.Kinds() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, q[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
