package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
)

// Definition is the parsed, not yet validated content of a signature file.
type Definition struct {
	// Source names the file the definition came from, for error messages.
	Source     string
	Version    string
	Formats    []FormatDef
	Signatures []SignatureDef
	// Warnings raised while decoding; they are carried into the catalog.
	Warnings []Warning
}

// FormatDef describes one format.
type FormatDef struct {
	ID           string
	PUID         string
	Name         string
	Version      string
	MIMEType     string
	Extensions   []string
	PriorityOver []string // IDs of formats this one has priority over
	Signatures   []string // IDs of signatures that identify this format
}

// SignatureDef describes one signature.
type SignatureDef struct {
	ID        string
	Specific  bool
	Sequences []sequence.ByteSequence
}

// Ordering compares two signatures for evaluation order. It returns a
// negative number when a must be evaluated before b.
type Ordering func(a, b *Signature) int

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	ordering Ordering
}

// WithOrdering replaces the default signature ordering.
func WithOrdering(o Ordering) Option {
	return func(b *buildOptions) {
		if o != nil {
			b.ordering = o
		}
	}
}

// DefaultOrdering evaluates higher ranked signatures first, then specific
// before generic, then by sort bits, then by ID.
func DefaultOrdering(a, b *Signature) int {
	if c := cmp.Compare(b.rank, a.rank); c != 0 {
		return c
	}
	if a.Specific != b.Specific {
		if a.Specific {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.SortBits(), b.SortBits()); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

// compareIDs orders numeric IDs numerically and everything else lexically.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	return strings.Compare(a, b)
}

// Build validates def and returns the catalog it describes. The first
// problem found aborts the build with a ParseError.
func Build(def Definition, opts ...Option) (*Catalog, error) {
	o := buildOptions{ordering: DefaultOrdering}
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(format string, args ...any) error {
		return errors.NewParse("signature catalog", def.Source, fmt.Sprintf(format, args...))
	}

	c := &Catalog{
		version:     def.Version,
		source:      def.Source,
		byID:        make(map[string]*Format),
		byPUID:      make(map[string]*Format),
		sigByID:     make(map[string]*Signature),
		byExtension: make(map[string][]*Format),
		warnings:    slices.Clone(def.Warnings),
	}

	for _, sd := range def.Signatures {
		if sd.ID == "" {
			return nil, fail("signature without an ID")
		}
		if _, dup := c.sigByID[sd.ID]; dup {
			return nil, fail("duplicate signature ID %s", sd.ID)
		}
		if len(sd.Sequences) == 0 {
			return nil, fail("signature %s has no byte sequences", sd.ID)
		}
		sig := &Signature{ID: sd.ID, Specific: sd.Specific}
		for i, seq := range sd.Sequences {
			plan, err := sequence.Compile(seq)
			if err != nil {
				return nil, fail("signature %s sequence %d: %v", sd.ID, i+1, err)
			}
			sig.Sequences = append(sig.Sequences, plan)
		}
		c.sigByID[sd.ID] = sig
	}

	for _, fd := range def.Formats {
		id := fd.ID
		if id == "" {
			id = fd.PUID
		}
		if id == "" {
			return nil, fail("format %q has neither ID nor PUID", fd.Name)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fail("duplicate format ID %s", id)
		}
		f := &Format{
			ID:       id,
			PUID:     fd.PUID,
			Name:     fd.Name,
			Version:  fd.Version,
			MIMEType: fd.MIMEType,
		}
		if f.PUID != "" {
			if _, dup := c.byPUID[f.PUID]; dup {
				return nil, fail("duplicate PUID %s", f.PUID)
			}
			c.byPUID[f.PUID] = f
		}
		for _, ext := range fd.Extensions {
			ext = normalizeExtension(ext)
			if ext == "" || slices.Contains(f.Extensions, ext) {
				continue
			}
			f.Extensions = append(f.Extensions, ext)
			c.byExtension[ext] = append(c.byExtension[ext], f)
		}
		for _, sid := range fd.Signatures {
			sig, ok := c.sigByID[sid]
			if !ok {
				return nil, fail("format %s refers to unknown signature %s", id, sid)
			}
			if !slices.Contains(sig.formats, f) {
				sig.formats = append(sig.formats, f)
				f.signatures = append(f.signatures, sig)
			}
		}
		c.byID[id] = f
		c.formats = append(c.formats, f)
	}

	for _, fd := range def.Formats {
		id := fd.ID
		if id == "" {
			id = fd.PUID
		}
		f := c.byID[id]
		for _, other := range fd.PriorityOver {
			g, ok := c.byID[other]
			if !ok {
				return nil, fail("format %s has priority over unknown format %s", id, other)
			}
			if g == f {
				return nil, fail("format %s has priority over itself", id)
			}
			if !slices.Contains(f.priorityOver, g) {
				f.priorityOver = append(f.priorityOver, g)
			}
		}
	}

	if err := assignRanks(c.formats); err != nil {
		return nil, fail("%v", err)
	}

	for _, sd := range def.Signatures {
		sig := c.sigByID[sd.ID]
		if len(sig.formats) == 0 {
			c.warnings = append(c.warnings, Warning{SignatureID: sig.ID, Message: "signature identifies no format and is never evaluated"})
			continue
		}
		slices.SortStableFunc(sig.formats, func(a, b *Format) int {
			if d := cmp.Compare(b.rank, a.rank); d != 0 {
				return d
			}
			return compareIDs(a.ID, b.ID)
		})
		sig.rank = sig.formats[0].rank
		if sig.SortBits() == SortVariable {
			c.warnings = append(c.warnings, Warning{SignatureID: sig.ID, Message: "signature has only variable sequences and scans the whole resource"})
		}
		c.signatures = append(c.signatures, sig)
	}
	slices.SortStableFunc(c.signatures, o.ordering)

	c.bestRemaining = make([]int, len(c.signatures))
	best := -1
	for i := len(c.signatures) - 1; i >= 0; i-- {
		best = max(best, c.signatures[i].rank)
		c.bestRemaining[i] = best
	}
	return c, nil
}

// assignRanks gives every format a rank one above the highest rank of the
// formats it has priority over. A priority cycle is an error.
func assignRanks(formats []*Format) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Format]int, len(formats))

	var visit func(f *Format, path []string) error
	visit = func(f *Format, path []string) error {
		switch state[f] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("priority cycle: %s -> %s", strings.Join(path, " -> "), f.ID)
		}
		state[f] = visiting
		rank := 0
		for _, g := range f.priorityOver {
			if err := visit(g, append(path, f.ID)); err != nil {
				return err
			}
			rank = max(rank, g.rank+1)
		}
		f.rank = rank
		state[f] = done
		return nil
	}

	for _, f := range formats {
		if err := visit(f, nil); err != nil {
			return err
		}
	}
	return nil
}
