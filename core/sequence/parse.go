package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/pattern"
)

// expression is the grammar of a PRONOM style byte sequence, e.g.
//
//	'%PDF-1.'[30:37]{0-8}(0A|0D)*'%%EOF'
type expression struct {
	Terms []*term `@@*`
}

type term struct {
	Gap  *string      `  @Gap`
	Star bool         `| @"*"`
	Alt  *alternation `| "(" @@ ")"`
	Atom *atom        `| @@`
}

type alternation struct {
	Options []*option `@@ ( "|" @@ )*`
}

type option struct {
	Atoms []*atom `@@+`
}

type atom struct {
	Any     bool       `  @Any`
	String  *string    `| @String`
	IString *string    `| @IString`
	Hex     *string    `| @Hex`
	Class   *byteClass `| "[" @@ "]"`
}

type byteClass struct {
	Not     bool    `@"!"?`
	AllBits *string `( "&" @Hex`
	AnyBits *string `| "~" @Hex`
	Lo      *string `| @Hex`
	Hi      *string `  ( ":" @Hex )? )`
}

// expressionLexer tokenizes byte sequence expressions.
var expressionLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Gaps: {n}, {n-m}, {n-*}
	{Name: "Gap", Pattern: `\{\d+(?:-(?:\d+|\*))?\}`},
	// Case-sensitive and case-insensitive ASCII strings
	{Name: "String", Pattern: `'[^']*'`},
	{Name: "IString", Pattern: "`[^`]*`"},
	{Name: "Any", Pattern: `\?\?`},
	{Name: "Hex", Pattern: `[0-9A-Fa-f]{2}`},
	{Name: "Punct", Pattern: `[\[\]()|!:&~*]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// expressionParser parses byte sequence expressions.
var expressionParser = participle.MustBuild[expression](
	participle.Lexer(expressionLexer),
	participle.Elide("Whitespace"),
)

// Parse parses a byte sequence expression anchored at anchor.
//
// Bounded gaps join steps into sub-sequences and unbounded gaps ({n-*} or *)
// separate sub-sequences. A gap before the first step of a BOF or variable
// expression is its offset, as is a gap after the last step of an EOF
// expression. A gap on the far side from the anchor is ignored.
func Parse(anchor Anchor, expr string) (ByteSequence, error) {
	ast, err := expressionParser.ParseString("", expr)
	if err != nil {
		return ByteSequence{}, parseError(expr, err.Error())
	}

	b := &builder{expr: expr}
	for _, t := range ast.Terms {
		if err := b.term(t); err != nil {
			return ByteSequence{}, err
		}
	}
	b.flush()
	return b.finish(anchor)
}

// MustParse is like Parse but panics on error.
func MustParse(anchor Anchor, expr string) ByteSequence {
	s, err := Parse(anchor, expr)
	if err != nil {
		panic(err)
	}
	return s
}

func parseError(expr, msg string) error {
	return &errors.ParseError{Format: "byte sequence expression", Path: strconv.Quote(expr), Message: msg}
}

// item is a step or a gap in expression order.
type item struct {
	step  *Step
	gap   Gap
	isGap bool
}

type builder struct {
	expr    string
	items   []item
	pending []pattern.ByteMatcher
}

func (b *builder) term(t *term) error {
	switch {
	case t.Gap != nil:
		g, err := parseGap(*t.Gap)
		if err != nil {
			return parseError(b.expr, err.Error())
		}
		b.addGap(g)
	case t.Star:
		b.addGap(AtLeast(0))
	case t.Alt != nil:
		b.flush()
		step := Step{}
		for _, o := range t.Alt.Options {
			var ms []pattern.ByteMatcher
			for _, a := range o.Atoms {
				am, err := b.atom(a)
				if err != nil {
					return err
				}
				ms = append(ms, am...)
			}
			f, err := pattern.NewFragment(ms...)
			if err != nil {
				return parseError(b.expr, "empty alternative")
			}
			step.Options = append(step.Options, f)
		}
		b.items = append(b.items, item{step: &step})
	case t.Atom != nil:
		ms, err := b.atom(t.Atom)
		if err != nil {
			return err
		}
		if len(ms) == 0 {
			return parseError(b.expr, "empty string")
		}
		b.pending = append(b.pending, ms...)
	}
	return nil
}

func (b *builder) atom(a *atom) ([]pattern.ByteMatcher, error) {
	switch {
	case a.Any:
		return []pattern.ByteMatcher{pattern.AnyByte()}, nil
	case a.String != nil:
		s := strings.Trim(*a.String, "'")
		ms := make([]pattern.ByteMatcher, len(s))
		for i := 0; i < len(s); i++ {
			ms[i] = pattern.Exact(s[i])
		}
		return ms, nil
	case a.IString != nil:
		s := strings.Trim(*a.IString, "`")
		ms := make([]pattern.ByteMatcher, len(s))
		for i := 0; i < len(s); i++ {
			lower, upper := toLower(s[i]), toUpper(s[i])
			if lower == upper {
				ms[i] = pattern.Exact(s[i])
			} else {
				ms[i] = pattern.OneOf(lower, upper)
			}
		}
		return ms, nil
	case a.Hex != nil:
		return []pattern.ByteMatcher{pattern.Exact(hexByte(*a.Hex))}, nil
	case a.Class != nil:
		c := a.Class
		var m pattern.ByteMatcher
		switch {
		case c.AllBits != nil:
			v := hexByte(*c.AllBits)
			m = pattern.Mask(v, v)
		case c.AnyBits != nil:
			m = pattern.AnyBits(hexByte(*c.AnyBits))
		case c.Hi != nil:
			m = pattern.InRange(hexByte(*c.Lo), hexByte(*c.Hi))
		default:
			m = pattern.Exact(hexByte(*c.Lo))
		}
		if c.Not {
			m = pattern.Not(m)
		}
		return []pattern.ByteMatcher{m}, nil
	}
	return nil, parseError(b.expr, "empty term")
}

// flush turns pending matchers into a single-fragment step.
func (b *builder) flush() {
	if len(b.pending) == 0 {
		return
	}
	f := pattern.Must(pattern.NewFragment(b.pending...))
	b.pending = nil
	step := Frag(f)
	b.items = append(b.items, item{step: &step})
}

func (b *builder) addGap(g Gap) {
	b.flush()
	if n := len(b.items); n > 0 && b.items[n-1].isGap {
		b.items[n-1].gap = b.items[n-1].gap.add(g)
		return
	}
	b.items = append(b.items, item{gap: g, isGap: true})
}

func (b *builder) finish(anchor Anchor) (ByteSequence, error) {
	items := b.items
	var lead, trail *Gap
	if len(items) > 0 && items[0].isGap {
		lead = &items[0].gap
		items = items[1:]
	}
	if n := len(items); n > 0 && items[n-1].isGap {
		trail = &items[n-1].gap
		items = items[:n-1]
	}
	if len(items) == 0 {
		return ByteSequence{}, parseError(b.expr, "expression has no byte patterns")
	}

	seq := ByteSequence{Anchor: anchor}
	switch anchor {
	case AnchorBOF:
		if lead != nil {
			seq.Offset = *lead
		}
	case AnchorEOF:
		if trail != nil {
			seq.Offset = *trail
		}
	default:
		seq.Offset = AtLeast(0)
		if lead != nil {
			seq.Offset = AtLeast(lead.Min)
		}
	}

	sub := SubSequence{}
	gap := Fixed(0)
	for _, it := range items {
		if it.isGap {
			gap = it.gap
			continue
		}
		if len(sub.Steps) > 0 {
			if gap.Bounded() {
				sub.Gaps = append(sub.Gaps, gap)
			} else {
				seq.Subsequences = append(seq.Subsequences, sub)
				seq.Separations = append(seq.Separations, gap)
				sub = SubSequence{}
			}
		}
		sub.Steps = append(sub.Steps, *it.step)
		gap = Fixed(0)
	}
	seq.Subsequences = append(seq.Subsequences, sub)

	if err := seq.Validate(); err != nil {
		return ByteSequence{}, parseError(b.expr, err.Error())
	}
	return seq, nil
}

// parseGap parses a {n}, {n-m} or {n-*} token.
func parseGap(tok string) (Gap, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(tok, "{"), "}")
	lo, hi, ranged := strings.Cut(body, "-")
	min, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return Gap{}, fmt.Errorf("bad gap %s: %v", tok, err)
	}
	if !ranged {
		return Fixed(min), nil
	}
	if hi == "*" {
		return AtLeast(min), nil
	}
	max, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return Gap{}, fmt.Errorf("bad gap %s: %v", tok, err)
	}
	if max < min {
		return Gap{}, fmt.Errorf("bad gap %s: maximum below minimum", tok)
	}
	return Range(min, max), nil
}

func hexByte(s string) byte {
	v, _ := strconv.ParseUint(s, 16, 8)
	return byte(v)
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
