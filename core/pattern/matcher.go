// Package pattern implements fixed-width byte patterns and their matching.
//
// All comparisons treat bytes as unsigned values in [0, 255].
package pattern

import (
	"fmt"
	"strings"
)

// Kind identifies how a ByteMatcher compares a byte.
type Kind uint8

const (
	// KindExact matches one literal value.
	KindExact Kind = iota
	// KindAny matches every byte.
	KindAny
	// KindAllBits matches when (b & mask) == value.
	KindAllBits
	// KindAnyBits matches when (b & mask) != 0.
	KindAnyBits
	// KindRange matches lo <= b <= hi.
	KindRange
	// KindSet matches any byte in a set.
	KindSet
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindAny:
		return "any"
	case KindAllBits:
		return "allbits"
	case KindAnyBits:
		return "anybits"
	case KindRange:
		return "range"
	case KindSet:
		return "set"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ByteMatcher tests a single byte.
type ByteMatcher struct {
	kind     Kind
	value    byte
	mask     byte
	hi       byte
	set      [4]uint64
	inverted bool
}

// Exact returns a matcher for the literal byte v.
func Exact(v byte) ByteMatcher {
	return ByteMatcher{kind: KindExact, value: v}
}

// AnyByte returns a wildcard matcher.
func AnyByte() ByteMatcher {
	return ByteMatcher{kind: KindAny}
}

// Mask returns a bitmask-AND matcher: (b & mask) == expected.
// Mask(0xFF, v) behaves exactly like Exact(v).
func Mask(mask, expected byte) ByteMatcher {
	return ByteMatcher{kind: KindAllBits, mask: mask, value: expected}
}

// AnyBits returns a bitmask-OR matcher: (b & mask) != 0.
func AnyBits(mask byte) ByteMatcher {
	return ByteMatcher{kind: KindAnyBits, mask: mask}
}

// InRange returns a matcher for lo <= b <= hi. The bounds may be given in
// either order.
func InRange(lo, hi byte) ByteMatcher {
	if lo > hi {
		lo, hi = hi, lo
	}
	return ByteMatcher{kind: KindRange, value: lo, hi: hi}
}

// OneOf returns a matcher for any of the given bytes.
func OneOf(values ...byte) ByteMatcher {
	m := ByteMatcher{kind: KindSet}
	for _, v := range values {
		m.set[v>>6] |= 1 << (v & 63)
	}
	return m
}

// Not returns the inverse of m.
func Not(m ByteMatcher) ByteMatcher {
	m.inverted = !m.inverted
	return m
}

// Kind returns the matcher kind.
func (m ByteMatcher) Kind() Kind { return m.kind }

// Inverted reports whether the matcher is negated.
func (m ByteMatcher) Inverted() bool { return m.inverted }

// Match reports whether b satisfies the matcher.
func (m ByteMatcher) Match(b byte) bool {
	var ok bool
	switch m.kind {
	case KindExact:
		ok = b == m.value
	case KindAny:
		ok = true
	case KindAllBits:
		ok = b&m.mask == m.value
	case KindAnyBits:
		ok = b&m.mask != 0
	case KindRange:
		ok = b >= m.value && b <= m.hi
	case KindSet:
		ok = m.set[b>>6]&(1<<(b&63)) != 0
	}
	return ok != m.inverted
}

// literal returns the byte and true when m only matches one value.
func (m ByteMatcher) literal() (byte, bool) {
	if m.inverted {
		return 0, false
	}
	switch m.kind {
	case KindExact:
		return m.value, true
	case KindAllBits:
		if m.mask == 0xFF {
			return m.value, true
		}
	case KindRange:
		if m.value == m.hi {
			return m.value, true
		}
	}
	return 0, false
}

// String renders the matcher in byte sequence expression syntax.
func (m ByteMatcher) String() string {
	not := ""
	if m.inverted {
		not = "!"
	}
	switch m.kind {
	case KindExact:
		if m.inverted {
			return fmt.Sprintf("[!%02X]", m.value)
		}
		return fmt.Sprintf("%02X", m.value)
	case KindAny:
		if m.inverted {
			return "[!??]"
		}
		return "??"
	case KindAllBits:
		if m.mask == m.value {
			return fmt.Sprintf("[%s&%02X]", not, m.mask)
		}
		return fmt.Sprintf("[%s&%02X=%02X]", not, m.mask, m.value)
	case KindAnyBits:
		return fmt.Sprintf("[%s~%02X]", not, m.mask)
	case KindRange:
		return fmt.Sprintf("[%s%02X:%02X]", not, m.value, m.hi)
	case KindSet:
		var parts []string
		for v := 0; v < 256; v++ {
			if m.set[v>>6]&(1<<(uint(v)&63)) != 0 {
				parts = append(parts, fmt.Sprintf("%02X", v))
			}
		}
		return not + "(" + strings.Join(parts, "|") + ")"
	}
	return "<invalid>"
}
