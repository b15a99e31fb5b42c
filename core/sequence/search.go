package sequence

import (
	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/pattern"
)

// Span is a half-open byte range [Start, End) in a resource.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the span.
func (s Span) Len() int64 { return s.End - s.Start }

// level is one step of a compiled plan, in search order. gap is measured
// from the reference point left by the previous level.
type level struct {
	options  []pattern.Fragment
	minWidth int64
	gap      Gap
}

// Plan is an immutable, compiled ByteSequence. It is safe for concurrent
// use; each Search keeps its own state.
type Plan struct {
	seq      ByteSequence
	backward bool
	levels   []level
}

// Compile validates s and flattens it into a search plan. EOF sequences are
// planned from the last step backward; all others from the first step forward.
func Compile(s ByteSequence) (*Plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var steps []Step
	var gaps []Gap
	for i, sub := range s.Subsequences {
		if i > 0 {
			gaps = append(gaps, s.Separations[i-1])
		}
		steps = append(steps, sub.Steps...)
		gaps = append(gaps, sub.Gaps...)
	}

	offset := s.Offset
	if s.Anchor == AnchorVariable {
		offset = AtLeast(offset.Min)
	}

	p := &Plan{seq: s, backward: s.Anchor == AnchorEOF, levels: make([]level, len(steps))}
	for i := range steps {
		k := i
		if p.backward {
			k = len(steps) - 1 - i
		}
		lv := level{options: steps[k].Options, minWidth: int64(steps[k].minWidth())}
		switch {
		case i == 0:
			lv.gap = offset
		case p.backward:
			lv.gap = gaps[k]
		default:
			lv.gap = gaps[k-1]
		}
		p.levels[i] = lv
	}
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(s ByteSequence) *Plan {
	p, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Sequence returns the sequence the plan was compiled from.
func (p *Plan) Sequence() ByteSequence { return p.seq }

// Anchor returns the sequence anchor.
func (p *Plan) Anchor() Anchor { return p.seq.Anchor }

// Steps returns the number of steps in the plan.
func (p *Plan) Steps() int { return len(p.levels) }

// String renders the sequence in expression syntax.
func (p *Plan) String() string { return p.seq.String() }

// frame is the search cursor for one level: the reference point it measures
// from, the next distance and option to try, and the current match.
type frame struct {
	ref   int64
	d     int64
	opt   int
	pos   int64
	width int64
}

// search holds the state of one Search call.
type search struct {
	p      *Plan
	src    bytesource.Source
	lo, hi int64
	stack  []frame
	// failed[i] holds references from which level i is known to fail.
	failed []map[int64]struct{}
	// floor[i] is, for unbounded levels, the reference beyond which level i
	// is known to fail: any reference farther along the search direction.
	floor    []int64
	hasFloor []bool
}

// Search looks for the sequence in src. maxBytes, when positive, limits the
// scan to the first maxBytes bytes for forward searches and the last maxBytes
// bytes for backward searches; a step must lie entirely inside that window.
//
// Every candidate position of every step is tried before the search gives
// up, backtracking into earlier steps when a later step cannot be placed.
// Offset limits constrain only the step nearest the anchor.
func (p *Plan) Search(src bytesource.Source, maxBytes int64) (Span, bool, error) {
	length := src.Len()
	s := &search{p: p, src: src, lo: 0, hi: length}
	if maxBytes > 0 && maxBytes < length {
		if p.backward {
			s.lo = length - maxBytes
		} else {
			s.hi = maxBytes
		}
	}

	// Offsets are measured from the resource edges, not the scan window.
	start := int64(0)
	if p.backward {
		start = length
	}
	if ind := p.seq.Indirect; ind != nil {
		base, ok, err := ind.Resolve(src)
		if err != nil || !ok {
			return Span{}, false, err
		}
		start = base
	}
	return s.run(start)
}

// Resolve reads the stored start position from src. It reports false when
// the stored value lies outside src or points beyond its end.
func (o IndirectOffset) Resolve(src bytesource.Source) (int64, bool, error) {
	length := src.Len()
	loc := o.Location
	if o.FromEOF {
		loc = length - o.Location - 1
	}
	if loc < 0 || loc+int64(o.Length) > length {
		return 0, false, nil
	}
	b, err := src.Window(loc, o.Length)
	if err != nil {
		return 0, false, err
	}
	var v uint64
	for i := range b {
		c := b[i]
		if o.LittleEndian {
			c = b[len(b)-1-i]
		}
		v = v<<8 | uint64(c)
	}
	if v > uint64(length) {
		return 0, false, nil
	}
	return int64(v), true, nil
}

func (s *search) run(start int64) (Span, bool, error) {
	n := len(s.p.levels)
	if n == 0 {
		return Span{}, false, nil
	}
	s.stack = make([]frame, n)
	s.stack[0] = frame{ref: start, d: s.p.levels[0].gap.Min}

	i := 0
	for {
		f := &s.stack[i]
		ok := false
		if !s.knownFailure(i, f.ref) {
			var err error
			ok, err = s.advance(i, f)
			if err != nil {
				return Span{}, false, err
			}
		}
		if ok {
			if i == n-1 {
				return s.span(), true, nil
			}
			next := f.pos + f.width
			if s.p.backward {
				next = f.pos
			}
			i++
			s.stack[i] = frame{ref: next, d: s.p.levels[i].gap.Min}
			continue
		}

		s.recordFailure(i, f.ref)
		if i == 0 {
			return Span{}, false, nil
		}
		i--
	}
}

// advance moves level i to its next matching candidate. It reports false
// when the level's candidate range is exhausted.
func (s *search) advance(i int, f *frame) (bool, error) {
	lv := &s.p.levels[i]
	for {
		if f.opt >= len(lv.options) {
			f.opt = 0
			f.d++
		}
		if lv.gap.Bounded() && f.d > lv.gap.Max {
			return false, nil
		}
		// Once even the narrowest option falls outside the window, larger
		// distances cannot bring it back.
		if s.p.backward {
			if f.ref-f.d-lv.minWidth < s.lo {
				return false, nil
			}
		} else if f.ref+f.d+lv.minWidth > s.hi {
			return false, nil
		}

		frag := lv.options[f.opt]
		f.opt++
		w := int64(frag.Width())
		pos := f.ref + f.d
		if s.p.backward {
			pos = f.ref - f.d - w
		}
		if pos < s.lo || pos+w > s.hi {
			continue
		}
		ok, err := frag.MatchAt(s.src, pos)
		if err != nil {
			return false, err
		}
		if ok {
			f.pos, f.width = pos, w
			return true, nil
		}
	}
}

func (s *search) knownFailure(i int, ref int64) bool {
	if s.hasFloor != nil && s.hasFloor[i] {
		if s.p.backward && ref <= s.floor[i] {
			return true
		}
		if !s.p.backward && ref >= s.floor[i] {
			return true
		}
	}
	if s.failed != nil && s.failed[i] != nil {
		_, ok := s.failed[i][ref]
		return ok
	}
	return false
}

// recordFailure notes that level i cannot be completed from ref. For an
// unbounded level every candidate reachable from a reference farther along
// the search direction was already reachable from ref, so those fail too.
func (s *search) recordFailure(i int, ref int64) {
	n := len(s.p.levels)
	if !s.p.levels[i].gap.Bounded() {
		if s.hasFloor == nil {
			s.floor = make([]int64, n)
			s.hasFloor = make([]bool, n)
		}
		switch {
		case !s.hasFloor[i]:
			s.floor[i], s.hasFloor[i] = ref, true
		case s.p.backward && ref > s.floor[i]:
			s.floor[i] = ref
		case !s.p.backward && ref < s.floor[i]:
			s.floor[i] = ref
		}
		return
	}
	if s.failed == nil {
		s.failed = make([]map[int64]struct{}, n)
	}
	if s.failed[i] == nil {
		s.failed[i] = make(map[int64]struct{})
	}
	s.failed[i][ref] = struct{}{}
}

func (s *search) span() Span {
	first, last := s.stack[0], s.stack[len(s.stack)-1]
	if s.p.backward {
		return Span{Start: last.pos, End: first.pos + first.width}
	}
	return Span{Start: first.pos, End: last.pos + last.width}
}
