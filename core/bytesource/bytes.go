package bytesource

import (
	"os"

	"github.com/FocuswithJustin/sigid/core/errors"
)

// BytesSource is a Source over an in-memory byte slice.
type BytesSource struct {
	name   string
	data   []byte
	closed bool
}

// NewBytes returns a Source over data. The slice is not copied.
func NewBytes(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

// Name implements Source.
func (s *BytesSource) Name() string { return s.name }

// Len implements Source.
func (s *BytesSource) Len() int64 { return int64(len(s.data)) }

// ByteAt implements Source.
func (s *BytesSource) ByteAt(off int64) (byte, error) {
	if s.closed {
		return 0, errors.NewIO("read", s.name, os.ErrClosed)
	}
	if off < 0 || off >= int64(len(s.data)) {
		return 0, errors.NewOutOfRange(off, 1, int64(len(s.data)))
	}
	return s.data[off], nil
}

// Window implements Source.
func (s *BytesSource) Window(off int64, n int) ([]byte, error) {
	if s.closed {
		return nil, errors.NewIO("read", s.name, os.ErrClosed)
	}
	if err := checkRange(off, n, int64(len(s.data))); err != nil {
		return nil, err
	}
	return s.data[off : off+int64(n) : off+int64(n)], nil
}

// Close implements Source.
func (s *BytesSource) Close() error {
	s.closed = true
	s.data = nil
	return nil
}
