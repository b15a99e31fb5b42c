package bytesource

import (
	"io"
	"os"

	"github.com/FocuswithJustin/sigid/core/cache"
	"github.com/FocuswithJustin/sigid/core/errors"
)

// FileSource is a Source over an open file. Reads are served from fixed-size
// windows aligned on multiples of the window size; a bounded number of the
// most recently used windows stays in memory.
type FileSource struct {
	name       string
	file       *os.File
	size       int64
	windowSize int
	windows    *cache.LRU[int64, []byte]
	spare      []byte // last evicted window, reused by the next miss
	scratch    []byte
	onClose    func() error
	closed     bool
}

// Open opens the file at path as a Source.
func Open(path string, opts Options) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	src, err := NewFile(path, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewFile wraps an already open file. The source takes ownership of f and
// closes it on Close.
func NewFile(name string, f *os.File, opts Options) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewIO("stat", name, err)
	}
	if info.IsDir() {
		return nil, errors.NewIO("open", name, errors.NewUnsupported("resource", "is a directory"))
	}
	opts = opts.normalized()
	s := &FileSource{
		name:       name,
		file:       f,
		size:       info.Size(),
		windowSize: opts.WindowSize,
	}
	s.windows = cache.NewLRU(cache.Config[int64, []byte]{
		MaxSize: opts.CachedWindows,
		OnEvict: s.recycle,
	})
	return s, nil
}

func (s *FileSource) recycle(_ int64, buf []byte) {
	if !s.closed && cap(buf) >= s.windowSize {
		s.spare = buf
	}
}

// Name implements Source.
func (s *FileSource) Name() string { return s.name }

// Len implements Source.
func (s *FileSource) Len() int64 { return s.size }

// CacheStats reports window cache usage.
func (s *FileSource) CacheStats() cache.Stats { return s.windows.Stats() }

// ByteAt implements Source.
func (s *FileSource) ByteAt(off int64) (byte, error) {
	if off < 0 || off >= s.size {
		return 0, errors.NewOutOfRange(off, 1, s.size)
	}
	w, start, err := s.window(off)
	if err != nil {
		return 0, err
	}
	return w[off-start], nil
}

// Window implements Source.
func (s *FileSource) Window(off int64, n int) ([]byte, error) {
	if err := checkRange(off, n, s.size); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	w, start, err := s.window(off)
	if err != nil {
		return nil, err
	}
	rel := off - start
	if rel+int64(n) <= int64(len(w)) {
		return w[rel : rel+int64(n) : rel+int64(n)], nil
	}

	// The request straddles windows; assemble it in the scratch buffer.
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	buf := s.scratch[:n]
	copied := copy(buf, w[rel:])
	for copied < n {
		w, _, err = s.window(off + int64(copied))
		if err != nil {
			return nil, err
		}
		copied += copy(buf[copied:], w)
	}
	return buf, nil
}

// window returns the cached window containing off and its start offset.
func (s *FileSource) window(off int64) ([]byte, int64, error) {
	if s.closed {
		return nil, 0, errors.NewIO("read", s.name, os.ErrClosed)
	}
	start := off - off%int64(s.windowSize)
	if w, ok := s.windows.Get(start); ok {
		return w, start, nil
	}

	size := int64(s.windowSize)
	if start+size > s.size {
		size = s.size - start
	}
	var buf []byte
	if s.spare != nil {
		buf, s.spare = s.spare[:size], nil
	} else {
		buf = make([]byte, size)
	}
	n, err := s.file.ReadAt(buf, start)
	if err != nil && !(err == io.EOF && int64(n) == size) {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, errors.NewIO("read", s.name, err)
	}
	s.windows.Put(start, buf)
	return buf, start, nil
}

// Close implements Source.
func (s *FileSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.windows.Clear()
	s.spare, s.scratch = nil, nil

	var err error
	if cerr := s.file.Close(); cerr != nil {
		err = errors.NewIO("close", s.name, cerr)
	}
	if s.onClose != nil {
		if cerr := s.onClose(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
