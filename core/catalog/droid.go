package catalog

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
	"github.com/FocuswithJustin/sigid/core/xml"
)

// LoadDROID reads a DROID binary signature file (FFSignatureFile) and
// builds a catalog from it.
func LoadDROID(r io.Reader, source string, opts ...Option) (*Catalog, error) {
	def, err := DecodeDROID(r, source)
	if err != nil {
		return nil, err
	}
	return Build(def, opts...)
}

// DecodeDROID reads a DROID signature file into a Definition. Element
// names are matched without regard to namespace.
func DecodeDROID(r io.Reader, source string) (Definition, error) {
	doc, err := xml.ParseReader(r)
	if err != nil {
		return Definition{}, &errors.ParseError{Format: "signature XML", Path: source, Message: "malformed document", Err: err}
	}
	root := doc.Root()
	if root.Name() != "FFSignatureFile" {
		return Definition{}, errors.NewParse("signature XML", source, fmt.Sprintf("root element is %s, want FFSignatureFile", root.Name()))
	}

	d := &droidDecoder{
		source:  source,
		def:     Definition{Source: source, Version: root.Attr("Version")},
		dropped: make(map[string]bool),
	}
	sigs, err := doc.Elements("InternalSignature")
	if err != nil {
		return Definition{}, d.fail("%v", err)
	}
	for _, n := range sigs {
		if err := d.signature(n); err != nil {
			return Definition{}, err
		}
	}
	formats, err := doc.Elements("FileFormat")
	if err != nil {
		return Definition{}, d.fail("%v", err)
	}
	for _, n := range formats {
		d.format(n)
	}
	return d.def, nil
}

type droidDecoder struct {
	source  string
	def     Definition
	dropped map[string]bool
}

func (d *droidDecoder) fail(format string, args ...any) error {
	return errors.NewParse("signature XML", d.source, fmt.Sprintf(format, args...))
}

func (d *droidDecoder) warn(sigID, format string, args ...any) {
	d.def.Warnings = append(d.def.Warnings, Warning{SignatureID: sigID, Message: fmt.Sprintf(format, args...)})
}

func (d *droidDecoder) format(n *xml.Node) {
	f := FormatDef{
		ID:       n.Attr("ID"),
		PUID:     n.Attr("PUID"),
		Name:     n.Attr("Name"),
		Version:  n.Attr("Version"),
		MIMEType: n.Attr("MIMEType"),
	}
	for _, c := range n.Children() {
		switch c.Name() {
		case "InternalSignatureID":
			if !d.dropped[c.Text()] {
				f.Signatures = append(f.Signatures, c.Text())
			}
		case "Extension":
			f.Extensions = append(f.Extensions, c.Text())
		case "HasPriorityOverFileFormatID":
			f.PriorityOver = append(f.PriorityOver, c.Text())
		}
	}
	d.def.Formats = append(d.def.Formats, f)
}

// signature decodes one InternalSignature. A signature using a construct
// that cannot be represented is dropped with a warning; formats that refer
// to it keep their other signatures.
func (d *droidDecoder) signature(n *xml.Node) error {
	sig := SignatureDef{
		ID:       n.Attr("ID"),
		Specific: strings.EqualFold(n.Attr("Specificity"), "Specific"),
	}
	for i, bs := range n.ChildrenNamed("ByteSequence") {
		seq, err := d.byteSequence(sig.ID, bs)
		if err != nil {
			var unsupported *errors.UnsupportedError
			if errors.As(err, &unsupported) {
				d.warn(sig.ID, "signature dropped: byte sequence %d: %v", i+1, err)
				d.dropped[sig.ID] = true
				return nil
			}
			return d.fail("signature %s byte sequence %d: %v", sig.ID, i+1, err)
		}
		sig.Sequences = append(sig.Sequences, seq)
	}
	d.def.Signatures = append(d.def.Signatures, sig)
	return nil
}

// subSequence is a decoded SubSequence element.
type subSequence struct {
	position int64
	offset   sequence.Gap
	body     sequence.SubSequence
}

func (d *droidDecoder) byteSequence(sigID string, n *xml.Node) (sequence.ByteSequence, error) {
	ref := n.Attr("Reference")
	indirect, err := indirectOffset(n, ref)
	if err != nil {
		return sequence.ByteSequence{}, err
	}
	anchor := sequence.AnchorBOF
	if indirect == nil {
		if anchor, err = sequence.ParseAnchor(ref); err != nil {
			return sequence.ByteSequence{}, errors.NewUnsupported("byte sequence reference", ref)
		}
	}

	var subs []subSequence
	for _, sn := range n.ChildrenNamed("SubSequence") {
		sub, err := d.subSequence(sigID, sn)
		if err != nil {
			return sequence.ByteSequence{}, err
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return sequence.ByteSequence{}, fmt.Errorf("no sub-sequences")
	}
	slices.SortStableFunc(subs, func(a, b subSequence) int { return cmp.Compare(a.position, b.position) })

	seq := sequence.ByteSequence{Anchor: anchor, Indirect: indirect}
	for i, sub := range subs {
		seq.Subsequences = append(seq.Subsequences, sub.body)
		if i == 0 {
			continue
		}
		// Only the sub-sequence nearest the anchor keeps its maximum offset.
		if anchor == sequence.AnchorEOF {
			seq.Separations = append(seq.Separations, sequence.AtLeast(subs[i-1].offset.Min))
		} else {
			seq.Separations = append(seq.Separations, sequence.AtLeast(sub.offset.Min))
		}
	}
	switch anchor {
	case sequence.AnchorBOF:
		seq.Offset = subs[0].offset
	case sequence.AnchorEOF:
		seq.Offset = subs[len(subs)-1].offset
	default:
		seq.Offset = sequence.AtLeast(subs[0].offset.Min)
	}
	return seq, nil
}

// indirectOffset reads the stored-offset attributes of an IndirectBOFoffset
// or IndirectEOFoffset byte sequence. Both are searched forward from the
// stored position; they differ only in where the stored value is located.
// It returns nil for other references.
func indirectOffset(n *xml.Node, ref string) (*sequence.IndirectOffset, error) {
	var fromEOF bool
	switch strings.ToLower(ref) {
	case "indirectbofoffset":
	case "indirecteofoffset":
		fromEOF = true
	default:
		return nil, nil
	}
	loc, err := intAttr(n, "IndirectOffsetLocation", 0)
	if err != nil {
		return nil, err
	}
	length, err := intAttr(n, "IndirectOffsetLength", 0)
	if err != nil {
		return nil, err
	}
	if length < 1 || length > sequence.MaxIndirectLength {
		return nil, errors.NewUnsupported("indirect offset length", strconv.FormatInt(length, 10))
	}
	return &sequence.IndirectOffset{
		Location:     loc,
		Length:       int(length),
		FromEOF:      fromEOF,
		LittleEndian: n.Attr("Endianness") == "Little-endian",
	}, nil
}

// sideFragment is a LeftFragment or RightFragment element.
type sideFragment struct {
	position int64
	gap      sequence.Gap
	steps    []sequence.Step
	gaps     []sequence.Gap
}

func (d *droidDecoder) subSequence(sigID string, n *xml.Node) (subSequence, error) {
	var sub subSequence
	var err error
	if sub.position, err = intAttr(n, "Position", 1); err != nil {
		return sub, err
	}
	if sub.offset, err = offsets(n, "SubSeqMinOffset", "SubSeqMaxOffset"); err != nil {
		return sub, err
	}

	seqNode := n.Child("Sequence")
	if seqNode == nil {
		return sub, fmt.Errorf("sub-sequence %d has no Sequence", sub.position)
	}
	steps, gaps, err := parseSteps(seqNode.Text())
	if err != nil {
		return sub, err
	}

	left, err := d.sideFragments(sigID, n, "LeftFragment")
	if err != nil {
		return sub, err
	}
	right, err := d.sideFragments(sigID, n, "RightFragment")
	if err != nil {
		return sub, err
	}

	// Left fragments run from the highest position down to the Sequence;
	// each fragment's offsets measure the gap to the element on its right.
	var body sequence.SubSequence
	for i := len(left) - 1; i >= 0; i-- {
		body.Steps = append(body.Steps, left[i].steps...)
		body.Gaps = append(body.Gaps, left[i].gaps...)
		body.Gaps = append(body.Gaps, left[i].gap)
	}
	body.Steps = append(body.Steps, steps...)
	body.Gaps = append(body.Gaps, gaps...)
	// Right fragment offsets measure the gap to the element on their left.
	for _, rf := range right {
		body.Gaps = append(body.Gaps, rf.gap)
		body.Steps = append(body.Steps, rf.steps...)
		body.Gaps = append(body.Gaps, rf.gaps...)
	}
	sub.body = body
	return sub, nil
}

// sideFragments groups fragments by position, nearest the Sequence first.
// Fragments sharing a position are alternatives.
func (d *droidDecoder) sideFragments(sigID string, n *xml.Node, name string) ([]sideFragment, error) {
	byPos := make(map[int64][]*xml.Node)
	var positions []int64
	for _, fn := range n.ChildrenNamed(name) {
		pos, err := intAttr(fn, "Position", 1)
		if err != nil {
			return nil, err
		}
		if _, seen := byPos[pos]; !seen {
			positions = append(positions, pos)
		}
		byPos[pos] = append(byPos[pos], fn)
	}
	slices.Sort(positions)

	var out []sideFragment
	for _, pos := range positions {
		nodes := byPos[pos]
		frag := sideFragment{position: pos}
		for i, fn := range nodes {
			gap, err := offsets(fn, "MinOffset", "MaxOffset")
			if err != nil {
				return nil, err
			}
			steps, gaps, err := parseSteps(fn.Text())
			if err != nil {
				return nil, err
			}
			if len(nodes) == 1 {
				frag.gap, frag.steps, frag.gaps = gap, steps, gaps
				break
			}
			if len(steps) != 1 {
				return nil, errors.NewUnsupported("fragment alternatives", fmt.Sprintf("%s %d alternative is not a single fragment", name, pos))
			}
			if i == 0 {
				frag.gap = gap
				frag.steps = []sequence.Step{{}}
			} else if gap != frag.gap {
				d.warn(sigID, "%s %d alternatives have different offsets; using their union", name, pos)
				frag.gap = sequence.Range(min(frag.gap.Min, gap.Min), max(frag.gap.Max, gap.Max))
			}
			frag.steps[0].Options = append(frag.steps[0].Options, steps[0].Options...)
		}
		out = append(out, frag)
	}
	return out, nil
}

// parseSteps parses fragment text into steps joined by bounded gaps.
func parseSteps(text string) ([]sequence.Step, []sequence.Gap, error) {
	seq, err := sequence.Parse(sequence.AnchorBOF, text)
	if err != nil {
		return nil, nil, err
	}
	if len(seq.Subsequences) != 1 || seq.Offset != sequence.Fixed(0) {
		return nil, nil, fmt.Errorf("fragment %q must not contain unbounded or leading gaps", text)
	}
	return seq.Subsequences[0].Steps, seq.Subsequences[0].Gaps, nil
}

// offsets reads a min/max offset pair. A missing maximum, or one below the
// minimum, is taken to equal the minimum.
func offsets(n *xml.Node, minName, maxName string) (sequence.Gap, error) {
	lo, err := intAttr(n, minName, 0)
	if err != nil {
		return sequence.Gap{}, err
	}
	v, ok := n.LookupAttr(maxName)
	if !ok || v == "" {
		return sequence.Fixed(lo), nil
	}
	hi, err := strconv.ParseInt(v, 10, 64)
	if err != nil || hi < 0 {
		return sequence.Gap{}, fmt.Errorf("bad %s %q", maxName, v)
	}
	return sequence.Range(lo, max(lo, hi)), nil
}

func intAttr(n *xml.Node, name string, def int64) (int64, error) {
	v, ok := n.LookupAttr(name)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("bad %s %q", name, v)
	}
	return i, nil
}
