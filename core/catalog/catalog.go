// Package catalog holds the immutable set of formats and signatures that
// resources are identified against.
//
// A Catalog is built once, from a DROID signature file or a YAML definition,
// and is then shared read-only by every identification.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
)

// Format is one identifiable file format.
type Format struct {
	ID         string
	PUID       string
	Name       string
	Version    string
	MIMEType   string
	Extensions []string

	rank         int
	priorityOver []*Format
	signatures   []*Signature
}

// Rank is the format's priority rank. A format ranks above every format
// it has priority over, directly or transitively.
func (f *Format) Rank() int { return f.rank }

// HasSignatures reports whether any signature identifies the format.
func (f *Format) HasSignatures() bool { return len(f.signatures) > 0 }

// HasPriorityOver reports whether f directly declares priority over g.
func (f *Format) HasPriorityOver(g *Format) bool {
	return slices.Contains(f.priorityOver, g)
}

// HasExtension reports whether ext (without a leading dot, any case) is
// one of the format's extensions.
func (f *Format) HasExtension(ext string) bool {
	return slices.Contains(f.Extensions, normalizeExtension(ext))
}

// String returns "PUID (Name)".
func (f *Format) String() string {
	if f.PUID == "" {
		return f.Name
	}
	return fmt.Sprintf("%s (%s)", f.PUID, f.Name)
}

// Signature is a set of byte sequences that must all match.
type Signature struct {
	ID        string
	Specific  bool
	Sequences []*sequence.Plan

	formats []*Format
	rank    int
}

// Formats returns the formats the signature identifies, highest rank first.
func (s *Signature) Formats() []*Format { return slices.Clone(s.formats) }

// Rank is the highest rank among the signature's formats.
func (s *Signature) Rank() int { return s.rank }

// SortBits groups signatures by the kinds of sequence they contain, so that
// signatures reading the same region of a resource are evaluated together.
func (s *Signature) SortBits() int {
	bits := 0
	for _, p := range s.Sequences {
		multi := len(p.Sequence().Subsequences) > 1
		switch {
		case p.Anchor() == sequence.AnchorBOF && multi:
			bits |= SortBOFMulti
		case p.Anchor() == sequence.AnchorBOF:
			bits |= SortBOF
		case p.Anchor() == sequence.AnchorEOF && multi:
			bits |= SortEOFMulti
		case p.Anchor() == sequence.AnchorEOF:
			bits |= SortEOF
		default:
			bits |= SortVariable
		}
	}
	return bits
}

// Signature sort bits.
const (
	SortBOF      = 1 << iota // BOF sequence
	SortBOFMulti             // BOF sequence followed by unanchored sub-sequences
	SortVariable             // unanchored sequence
	SortEOF                  // EOF sequence
	SortEOFMulti             // EOF sequence preceded by unanchored sub-sequences
)

// Warning describes a signature accepted with reservations.
type Warning struct {
	SignatureID string
	Message     string
}

// Catalog is an immutable collection of formats and signatures.
type Catalog struct {
	version    string
	source     string
	formats    []*Format
	byID       map[string]*Format
	byPUID     map[string]*Format
	signatures []*Signature
	sigByID    map[string]*Signature
	// bestRemaining[i] is the highest rank of signatures[i:].
	bestRemaining []int
	byExtension   map[string][]*Format
	warnings      []Warning
}

// Version is the catalog version declared by its definition.
func (c *Catalog) Version() string { return c.version }

// Source names where the catalog was loaded from.
func (c *Catalog) Source() string { return c.source }

// Formats returns every format in definition order.
func (c *Catalog) Formats() []*Format { return slices.Clone(c.formats) }

// Signatures returns the signatures in evaluation order.
func (c *Catalog) Signatures() []*Signature { return slices.Clone(c.signatures) }

// Len returns the number of signatures that take part in evaluation.
func (c *Catalog) Len() int { return len(c.signatures) }

// SignatureAt returns the i-th signature in evaluation order.
func (c *Catalog) SignatureAt(i int) *Signature { return c.signatures[i] }

// BestRankFrom returns the highest format rank among signatures i and
// later, or -1 when i is past the end.
func (c *Catalog) BestRankFrom(i int) int {
	if i >= len(c.bestRemaining) {
		return -1
	}
	return c.bestRemaining[i]
}

// Format returns the format with the given internal ID.
func (c *Catalog) Format(id string) (*Format, error) {
	if f, ok := c.byID[id]; ok {
		return f, nil
	}
	return nil, errors.NewNotFound("format", id)
}

// Lookup returns the format with the given PUID.
func (c *Catalog) Lookup(puid string) (*Format, error) {
	if f, ok := c.byPUID[puid]; ok {
		return f, nil
	}
	return nil, errors.NewNotFound("format", puid)
}

// Signature returns the signature with the given ID.
func (c *Catalog) Signature(id string) (*Signature, error) {
	if s, ok := c.sigByID[id]; ok {
		return s, nil
	}
	return nil, errors.NewNotFound("signature", id)
}

// ByExtension returns the formats declaring ext, in definition order.
func (c *Catalog) ByExtension(ext string) []*Format {
	return slices.Clone(c.byExtension[normalizeExtension(ext)])
}

// Tentative returns the formats declaring ext that have no signatures.
// These can only ever be identified by extension.
func (c *Catalog) Tentative(ext string) []*Format {
	var out []*Format
	for _, f := range c.byExtension[normalizeExtension(ext)] {
		if !f.HasSignatures() {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns signatures that loaded with reservations.
func (c *Catalog) Warnings() []Warning { return slices.Clone(c.warnings) }

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
