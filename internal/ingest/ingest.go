// Package ingest opens resources as byte sources, decompressing
// single-stream compressed files (gzip, xz, zstd, lz4) when asked to.
package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/errors"
)

// Compression is a single-stream compression format.
type Compression string

const (
	None Compression = ""
	Gzip Compression = "gzip"
	XZ   Compression = "xz"
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
)

var suffixes = []struct {
	suffix string
	c      Compression
}{
	{".gz", Gzip},
	{".tgz", Gzip},
	{".xz", XZ},
	{".txz", XZ},
	{".zst", Zstd},
	{".lz4", LZ4},
}

// DetectCompression guesses the compression of path from its suffix.
func DetectCompression(path string) Compression {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.c
		}
	}
	return None
}

// InnerName returns the name of the decompressed resource: path without
// its compression suffix, with .tgz and .txz becoming .tar.
func InnerName(path string) string {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			name := path[:len(path)-len(s.suffix)]
			if s.suffix == ".tgz" || s.suffix == ".txz" {
				name += ".tar"
			}
			return name
		}
	}
	return path
}

// Options control how resources are opened.
type Options struct {
	Source bytesource.Options
	// Decompress opens compressed files as their decompressed content.
	Decompress bool
}

// NewDecompressor wraps r in a reader for c. The returned reader must be
// closed; closing it does not close r.
func NewDecompressor(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gzr, nil
	case XZ:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xzr), nil
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
	return nil, errors.NewUnsupported("compression", string(c))
}

// Open opens path as a Source. Uncompressed files, and every file when
// opts.Decompress is false, are read in place; compressed files are
// decompressed and spooled, and the Source is named after the inner file.
func Open(path string, opts Options) (bytesource.Source, error) {
	c := None
	if opts.Decompress {
		c = DetectCompression(path)
	}
	if c == None {
		return bytesource.Open(path, opts.Source)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()
	return OpenStream(InnerName(path), c, f, opts)
}

// OpenStream decompresses r with c and spools the result as a Source
// called name.
func OpenStream(name string, c Compression, r io.Reader, opts Options) (bytesource.Source, error) {
	dr, err := NewDecompressor(c, r)
	if err != nil {
		return nil, errors.NewIO("decompress", name, fmt.Errorf("%s: %w", c, err))
	}
	defer dr.Close()
	return bytesource.Spool(name, dr, opts.Source)
}
