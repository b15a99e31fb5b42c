// Package identify evaluates a resource against a signature catalog.
package identify

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/catalog"
	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
)

// ExtensionMode controls identification by file extension.
type ExtensionMode int

const (
	// ExtensionsNone never identifies by extension.
	ExtensionsNone ExtensionMode = iota
	// ExtensionsTentative falls back to formats that have no signatures.
	ExtensionsTentative
	// ExtensionsAll falls back to every format declaring the extension.
	ExtensionsAll
)

func (m ExtensionMode) String() string {
	switch m {
	case ExtensionsNone:
		return "none"
	case ExtensionsTentative:
		return "tentative"
	case ExtensionsAll:
		return "all"
	}
	return fmt.Sprintf("extensions(%d)", int(m))
}

// ParseExtensionMode parses "none", "tentative" or "all".
func ParseExtensionMode(s string) (ExtensionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ExtensionsNone, nil
	case "tentative":
		return ExtensionsTentative, nil
	case "all":
		return ExtensionsAll, nil
	}
	return ExtensionsNone, errors.NewValidation("extensions", fmt.Sprintf("unknown mode %q", s))
}

// Method is how a result was found.
type Method string

const (
	MethodSignature Method = "signature"
	MethodExtension Method = "extension"
)

// Options configure an Identifier. The zero value visits every signature,
// scans whole resources and ignores extensions.
type Options struct {
	// MaxMatches stops evaluation once that many formats are certain to be
	// in the result. Zero or negative means unlimited.
	MaxMatches int
	// MaxBytesToScan bounds every search to the first (or, for EOF
	// sequences, last) MaxBytesToScan bytes. Zero or negative means the
	// whole resource.
	MaxBytesToScan int64
	Extensions     ExtensionMode
}

// Result is one identified format.
type Result struct {
	Format *catalog.Format
	// Signature is the first signature that identified the format; nil
	// for extension results.
	Signature *catalog.Signature
	Method    Method
	// Spans holds the matched range of each of the signature's sequences.
	Spans []sequence.Span
}

// ResultCollection is the outcome of identifying one resource.
type ResultCollection struct {
	CorrelationID string
	Name          string
	Size          int64
	Results       []Result
	// ExtensionMismatch is set when a signature result's format declares
	// extensions and none of them is the resource's extension.
	ExtensionMismatch bool
	// Digest is the hex BLAKE3 digest of the resource, when requested.
	Digest string
}

// PUIDs returns the identifiers of the result formats in order.
func (rc *ResultCollection) PUIDs() []string {
	out := make([]string, len(rc.Results))
	for i, r := range rc.Results {
		out[i] = r.Format.PUID
	}
	return out
}

// Identifier evaluates resources against one catalog. It holds no mutable
// state and is safe for concurrent use.
type Identifier struct {
	catalog *catalog.Catalog
	opts    Options
}

// New returns an Identifier for c.
func New(c *catalog.Catalog, opts Options) *Identifier {
	return &Identifier{catalog: c, opts: opts}
}

// Catalog returns the catalog the Identifier evaluates against.
func (id *Identifier) Catalog() *catalog.Catalog { return id.catalog }

// Options returns the Identifier's options.
func (id *Identifier) Options() Options { return id.opts }

// Evaluate identifies src with the given match limit. It is shorthand for
// New(c, Options{MaxMatches: maxMatches}).Evaluate(src).
func Evaluate(src bytesource.Source, c *catalog.Catalog, maxMatches int) (*ResultCollection, error) {
	return New(c, Options{MaxMatches: maxMatches}).Evaluate(src)
}

// Evaluate tests src against every signature of the catalog in catalog
// order. A resource that matches nothing yields an empty collection and a
// nil error; an error means src could not be read.
//
// With a match limit, evaluation stops as soon as the limit is reached by
// formats that no later signature could outrank, so a limited result is
// always a subset of the unlimited one.
func (id *Identifier) Evaluate(src bytesource.Source) (*ResultCollection, error) {
	rc := &ResultCollection{Name: src.Name(), Size: src.Len()}
	limit := id.opts.MaxMatches

	var results []Result
	if src.Len() > 0 {
		n := id.catalog.Len()
		for i := 0; i < n; i++ {
			if limit > 0 && len(results) >= limit {
				if done := settled(results, id.catalog.BestRankFrom(i)); len(done) >= limit {
					results = done
					break
				}
			}
			sig := id.catalog.SignatureAt(i)
			spans, ok, err := Match(sig, src, id.opts.MaxBytesToScan)
			if err != nil {
				return nil, errors.Wrapf(err, "identify %s", src.Name())
			}
			if !ok {
				continue
			}
			for _, f := range sig.Formats() {
				if !containsFormat(results, f) {
					results = append(results, Result{Format: f, Signature: sig, Method: MethodSignature, Spans: slices.Clone(spans)})
				}
			}
		}
		results = removeLowerPriority(results)
	}

	ext := extensionOf(src.Name())
	if len(results) > 0 {
		rc.ExtensionMismatch = extensionMismatch(results, ext)
	} else {
		results = id.byExtension(ext)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	rc.Results = results
	return rc, nil
}

// Match reports whether every sequence of sig occurs in src, returning the
// span of each.
func Match(sig *catalog.Signature, src bytesource.Source, maxBytes int64) ([]sequence.Span, bool, error) {
	spans := make([]sequence.Span, 0, len(sig.Sequences))
	for _, p := range sig.Sequences {
		span, ok, err := p.Search(src, maxBytes)
		if err != nil || !ok {
			return nil, false, err
		}
		spans = append(spans, span)
	}
	return spans, true, nil
}

// settled returns the results that are certain to survive in an unlimited
// evaluation once no remaining signature ranks above best: their format
// ranks at least best, so nothing found later can have priority over it,
// and nothing found so far does.
func settled(results []Result, best int) []Result {
	var out []Result
	for _, r := range results {
		if r.Format.Rank() >= best && !outranked(results, r.Format) {
			out = append(out, r)
		}
	}
	return out
}

func removeLowerPriority(results []Result) []Result {
	return slices.DeleteFunc(slices.Clone(results), func(r Result) bool {
		return outranked(results, r.Format)
	})
}

func outranked(results []Result, f *catalog.Format) bool {
	for _, r := range results {
		if r.Format.HasPriorityOver(f) {
			return true
		}
	}
	return false
}

func containsFormat(results []Result, f *catalog.Format) bool {
	return slices.ContainsFunc(results, func(r Result) bool { return r.Format == f })
}

func (id *Identifier) byExtension(ext string) []Result {
	if ext == "" {
		return nil
	}
	var formats []*catalog.Format
	switch id.opts.Extensions {
	case ExtensionsTentative:
		formats = id.catalog.Tentative(ext)
	case ExtensionsAll:
		formats = id.catalog.ByExtension(ext)
	}
	var out []Result
	for _, f := range formats {
		out = append(out, Result{Format: f, Method: MethodExtension})
	}
	return out
}

func extensionMismatch(results []Result, ext string) bool {
	for _, r := range results {
		if len(r.Format.Extensions) > 0 && !r.Format.HasExtension(ext) {
			return true
		}
	}
	return false
}

func extensionOf(name string) string {
	return strings.TrimPrefix(filepath.Ext(name), ".")
}
