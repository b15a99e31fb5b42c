// Package sequence models anchored byte sequences and searches byte sources
// for them.
//
// A ByteSequence is a chain of steps in file order. Adjacent steps inside a
// SubSequence are separated by bounded gaps; consecutive sub-sequences may be
// separated by unbounded gaps. Each step is a set of alternative fragments.
package sequence

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/pattern"
)

// Anchor says where a sequence is measured from.
type Anchor uint8

const (
	// AnchorBOF sequences are searched forward from the beginning of the resource.
	AnchorBOF Anchor = iota
	// AnchorEOF sequences are searched backward from the end of the resource.
	AnchorEOF
	// AnchorVariable sequences may start anywhere.
	AnchorVariable
)

// String returns the anchor name.
func (a Anchor) String() string {
	switch a {
	case AnchorBOF:
		return "bof"
	case AnchorEOF:
		return "eof"
	case AnchorVariable:
		return "var"
	}
	return fmt.Sprintf("anchor(%d)", uint8(a))
}

// ParseAnchor accepts the short names used on the command line and in YAML
// catalogs as well as the DROID Reference attribute values.
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bof", "bofoffset":
		return AnchorBOF, nil
	case "eof", "eofoffset":
		return AnchorEOF, nil
	case "", "var", "variable":
		return AnchorVariable, nil
	}
	return AnchorVariable, errors.NewValidation("anchor", fmt.Sprintf("unknown anchor %q", s))
}

// Unbounded is the Max of a gap with no upper limit.
const Unbounded int64 = -1

// Gap is a [Min, Max] byte distance. Max may be Unbounded.
type Gap struct {
	Min int64
	Max int64
}

// Fixed returns the gap [n, n].
func Fixed(n int64) Gap { return Gap{Min: n, Max: n} }

// Range returns the gap [min, max].
func Range(min, max int64) Gap { return Gap{Min: min, Max: max} }

// AtLeast returns the unbounded gap [min, *].
func AtLeast(min int64) Gap { return Gap{Min: min, Max: Unbounded} }

// Bounded reports whether the gap has an upper limit.
func (g Gap) Bounded() bool { return g.Max != Unbounded }

// Contains reports whether d lies inside the gap.
func (g Gap) Contains(d int64) bool {
	return d >= g.Min && (g.Max == Unbounded || d <= g.Max)
}

func (g Gap) validate(field string) error {
	if g.Min < 0 {
		return errors.NewValidation(field, fmt.Sprintf("negative minimum %d", g.Min))
	}
	if g.Max != Unbounded && g.Max < g.Min {
		return errors.NewValidation(field, fmt.Sprintf("maximum %d below minimum %d", g.Max, g.Min))
	}
	return nil
}

// add returns the gap covering both distances in a row.
func (g Gap) add(o Gap) Gap {
	sum := Gap{Min: g.Min + o.Min, Max: Unbounded}
	if g.Bounded() && o.Bounded() {
		sum.Max = g.Max + o.Max
	}
	return sum
}

// String renders the gap in expression syntax; the zero gap renders empty.
func (g Gap) String() string {
	switch {
	case g.Min == 0 && g.Max == 0:
		return ""
	case g.Min == 0 && g.Max == Unbounded:
		return "*"
	case g.Max == Unbounded:
		return fmt.Sprintf("{%d-*}", g.Min)
	case g.Min == g.Max:
		return fmt.Sprintf("{%d}", g.Min)
	}
	return fmt.Sprintf("{%d-%d}", g.Min, g.Max)
}

// Step is one position in a sequence. Any one of its options may match;
// options may differ in width.
type Step struct {
	Options []pattern.Fragment
}

// Alt returns a step with the given alternatives.
func Alt(options ...pattern.Fragment) Step {
	return Step{Options: options}
}

// Frag returns a step with a single fragment.
func Frag(f pattern.Fragment) Step {
	return Step{Options: []pattern.Fragment{f}}
}

func (s Step) minWidth() int {
	w := 0
	for i, o := range s.Options {
		if i == 0 || o.Width() < w {
			w = o.Width()
		}
	}
	return w
}

func (s Step) String() string {
	if len(s.Options) == 1 {
		return s.Options[0].String()
	}
	parts := make([]string, len(s.Options))
	for i, o := range s.Options {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, "|") + ")"
}

// SubSequence is a run of steps separated by bounded gaps. Gaps[i] is the
// distance between the end of Steps[i] and the start of Steps[i+1].
type SubSequence struct {
	Steps []Step
	Gaps  []Gap
}

// ByteSequence is an anchored chain of sub-sequences in file order.
//
// Offset is the distance between the anchor and the nearest step: from the
// start of the resource to the first step for AnchorBOF, and from the end of
// the last step to the end of the resource for AnchorEOF. For
// AnchorVariable only Offset.Min is used, measured from the start.
// Separations[i] is the distance between Subsequences[i] and
// Subsequences[i+1].
//
// When Indirect is set the sequence is anchored to BOF, but Offset is
// measured from the position stored in the resource rather than from its
// start.
type ByteSequence struct {
	Anchor       Anchor
	Offset       Gap
	Subsequences []SubSequence
	Separations  []Gap
	Indirect     *IndirectOffset
}

// MaxIndirectLength is the widest stored offset an IndirectOffset can read.
const MaxIndirectLength = 8

// IndirectOffset says where a resource stores the start position of a
// sequence. The stored value is an unsigned integer of Length bytes,
// big-endian unless LittleEndian is set.
type IndirectOffset struct {
	// Location is the position of the stored value, counted from the start
	// of the resource, or back from its last byte when FromEOF is set.
	Location     int64
	Length       int
	FromEOF      bool
	LittleEndian bool
}

func (o IndirectOffset) validate() error {
	if o.Location < 0 {
		return errors.NewValidation("indirect.location", fmt.Sprintf("negative location %d", o.Location))
	}
	if o.Length < 1 || o.Length > MaxIndirectLength {
		return errors.NewValidation("indirect.length", fmt.Sprintf("length %d outside 1-%d", o.Length, MaxIndirectLength))
	}
	return nil
}

// Validate checks the structural rules of the sequence.
func (s ByteSequence) Validate() error {
	if s.Anchor > AnchorVariable {
		return errors.NewValidation("anchor", fmt.Sprintf("unknown anchor %d", s.Anchor))
	}
	if err := s.Offset.validate("offset"); err != nil {
		return err
	}
	if s.Indirect != nil {
		if s.Anchor != AnchorBOF {
			return errors.NewValidation("indirect", "indirect offsets need a BOF anchor")
		}
		if err := s.Indirect.validate(); err != nil {
			return err
		}
	}
	if len(s.Subsequences) == 0 {
		return errors.NewValidation("subsequences", "sequence has no sub-sequences")
	}
	if len(s.Separations) != len(s.Subsequences)-1 {
		return errors.NewValidation("separations", fmt.Sprintf("got %d separations for %d sub-sequences", len(s.Separations), len(s.Subsequences)))
	}
	for i, sep := range s.Separations {
		if err := sep.validate(fmt.Sprintf("separations[%d]", i)); err != nil {
			return err
		}
	}
	for i, sub := range s.Subsequences {
		field := fmt.Sprintf("subsequences[%d]", i)
		if len(sub.Steps) == 0 {
			return errors.NewValidation(field, "sub-sequence has no steps")
		}
		if len(sub.Gaps) != len(sub.Steps)-1 {
			return errors.NewValidation(field, fmt.Sprintf("got %d gaps for %d steps", len(sub.Gaps), len(sub.Steps)))
		}
		for j, g := range sub.Gaps {
			gf := fmt.Sprintf("%s.gaps[%d]", field, j)
			if !g.Bounded() {
				return errors.NewValidation(gf, "gaps inside a sub-sequence must be bounded")
			}
			if err := g.validate(gf); err != nil {
				return err
			}
		}
		for j, st := range sub.Steps {
			if len(st.Options) == 0 {
				return errors.NewValidation(fmt.Sprintf("%s.steps[%d]", field, j), "step has no fragments")
			}
			for _, o := range st.Options {
				if o.Width() == 0 {
					return errors.NewValidation(fmt.Sprintf("%s.steps[%d]", field, j), "fragment width must be greater than zero")
				}
			}
		}
	}
	return nil
}

// String renders the sequence in expression syntax.
func (s ByteSequence) String() string {
	var sb strings.Builder
	switch s.Anchor {
	case AnchorBOF:
		sb.WriteString(s.Offset.String())
	case AnchorVariable:
		if s.Offset.Min > 0 {
			sb.WriteString(AtLeast(s.Offset.Min).String())
		}
	}
	for i, sub := range s.Subsequences {
		if i > 0 {
			sep := s.Separations[i-1].String()
			if sep == "" {
				sep = "{0}"
			}
			sb.WriteString(sep)
		}
		for j, st := range sub.Steps {
			if j > 0 {
				sb.WriteString(sub.Gaps[j-1].String())
				if sub.Gaps[j-1] == Fixed(0) {
					sb.WriteByte(' ')
				}
			}
			sb.WriteString(st.String())
		}
	}
	if s.Anchor == AnchorEOF {
		sb.WriteString(s.Offset.String())
	}
	return sb.String()
}
