// Package bytesource provides lazily windowed, byte-addressable views over
// resources being identified.
//
// A Source is owned by a single identification task. Implementations are
// not safe for concurrent use.
package bytesource

import (
	"io"

	"github.com/FocuswithJustin/sigid/core/errors"
)

// Default window and spool sizes.
const (
	DefaultWindowSize     = 64 * 1024
	DefaultCachedWindows  = 8
	DefaultSpoolThreshold = 4 * 1024 * 1024
)

// Source is a read-only, random-access view of a resource.
type Source interface {
	// Name is the resource name, usually its path or archive entry name.
	Name() string
	// Len is the total length of the resource in bytes.
	Len() int64
	// ByteAt returns the byte at off, or an OutOfRangeError when off is
	// negative or not less than Len.
	ByteAt(off int64) (byte, error)
	// Window returns n bytes starting at off. The returned slice is only
	// valid until the next call on the Source and must not be modified.
	Window(off int64, n int) ([]byte, error)
	// Close releases the underlying resources. It is safe to call twice.
	Close() error
}

// Options controls how file-backed sources buffer reads.
type Options struct {
	// WindowSize is the size of each cached read window.
	WindowSize int
	// CachedWindows is how many windows are kept in memory per source.
	CachedWindows int
	// SpoolThreshold is the largest stream kept in memory before it is
	// spooled to a temporary file.
	SpoolThreshold int64
}

// DefaultOptions returns the default buffering options.
func DefaultOptions() Options {
	return Options{
		WindowSize:     DefaultWindowSize,
		CachedWindows:  DefaultCachedWindows,
		SpoolThreshold: DefaultSpoolThreshold,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.CachedWindows <= 0 {
		o.CachedWindows = d.CachedWindows
	}
	if o.SpoolThreshold <= 0 {
		o.SpoolThreshold = d.SpoolThreshold
	}
	return o
}

// checkRange validates a request for n bytes at off against length.
func checkRange(off int64, n int, length int64) error {
	if off < 0 || n < 0 || off > length || int64(n) > length-off {
		return errors.NewOutOfRange(off, n, length)
	}
	return nil
}

// ReaderAt adapts a Source to io.ReaderAt.
type ReaderAt struct {
	Source Source
}

// ReadAt implements io.ReaderAt.
func (r ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	length := r.Source.Len()
	if off >= length {
		return 0, io.EOF
	}
	n := len(p)
	short := false
	if int64(n) > length-off {
		n = int(length - off)
		short = true
	}
	w, err := r.Source.Window(off, n)
	if err != nil {
		return 0, err
	}
	copy(p, w)
	if short {
		return n, io.EOF
	}
	return n, nil
}

// NewReader returns a reader over the whole content of src.
func NewReader(src Source) *io.SectionReader {
	return io.NewSectionReader(ReaderAt{Source: src}, 0, src.Len())
}
