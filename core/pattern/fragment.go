package pattern

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/errors"
)

// Fragment is a fixed-width sequence of byte matchers.
type Fragment struct {
	matchers []ByteMatcher
	// literal is set when every matcher accepts exactly one value.
	literal []byte
}

// NewFragment builds a fragment from one or more matchers.
func NewFragment(matchers ...ByteMatcher) (Fragment, error) {
	if len(matchers) == 0 {
		return Fragment{}, errors.NewValidation("fragment", "width must be greater than zero")
	}
	f := Fragment{matchers: append([]ByteMatcher(nil), matchers...)}

	lit := make([]byte, len(matchers))
	for i, m := range matchers {
		b, ok := m.literal()
		if !ok {
			lit = nil
			break
		}
		lit[i] = b
	}
	f.literal = lit
	return f, nil
}

// Literal builds a fragment that matches b exactly.
func Literal(b []byte) (Fragment, error) {
	ms := make([]ByteMatcher, len(b))
	for i, v := range b {
		ms[i] = Exact(v)
	}
	return NewFragment(ms...)
}

// Must panics if err is non-nil. It is intended for fragments built from
// constants.
func Must(f Fragment, err error) Fragment {
	if err != nil {
		panic(err)
	}
	return f
}

// Width returns the number of bytes the fragment spans.
func (f Fragment) Width() int { return len(f.matchers) }

// Matchers returns a copy of the fragment's matchers.
func (f Fragment) Matchers() []ByteMatcher {
	return append([]ByteMatcher(nil), f.matchers...)
}

// IsLiteral reports whether the fragment matches exactly one byte string.
func (f Fragment) IsLiteral() bool { return f.literal != nil }

// Match reports whether window matches the fragment. A window whose length
// differs from the fragment width never matches.
func (f Fragment) Match(window []byte) bool {
	if len(window) != len(f.matchers) || len(window) == 0 {
		return false
	}
	if f.literal != nil {
		return bytes.Equal(window, f.literal)
	}
	for i, m := range f.matchers {
		if !m.Match(window[i]) {
			return false
		}
	}
	return true
}

// MatchAt tests the fragment against src at pos. Positions where the
// fragment would not fit inside src report no match; only read failures
// are returned as errors.
func (f Fragment) MatchAt(src bytesource.Source, pos int64) (bool, error) {
	w := int64(len(f.matchers))
	if w == 0 || pos < 0 || pos+w > src.Len() {
		return false, nil
	}
	window, err := src.Window(pos, len(f.matchers))
	if err != nil {
		return false, err
	}
	return f.Match(window), nil
}

// String renders the fragment in byte sequence expression syntax.
func (f Fragment) String() string {
	var sb strings.Builder
	for i, m := range f.matchers {
		if i > 0 && (m.kind != KindExact || m.inverted) {
			sb.WriteByte(' ')
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}

// GoString implements fmt.GoStringer for test output.
func (f Fragment) GoString() string {
	return fmt.Sprintf("pattern.Fragment(%s)", f.String())
}
