package bytesource

import (
	"bytes"
	"io"
	"os"

	"github.com/FocuswithJustin/sigid/core/errors"
)

// Spool materializes a forward-only stream as a Source. Streams no longer
// than opts.SpoolThreshold are held in memory; longer streams are copied to
// a temporary file that is removed when the Source is closed.
func Spool(name string, r io.Reader, opts Options) (Source, error) {
	opts = opts.normalized()

	var head bytes.Buffer
	n, err := io.CopyN(&head, r, opts.SpoolThreshold+1)
	if err != nil && err != io.EOF {
		return nil, errors.NewIO("read", name, err)
	}
	if n <= opts.SpoolThreshold {
		return NewBytes(name, head.Bytes()), nil
	}

	tmp, err := os.CreateTemp("", "sigid-spool-*")
	if err != nil {
		return nil, errors.NewIO("create spool for", name, err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(head.Bytes()); err != nil {
		cleanup()
		return nil, errors.NewIO("spool", name, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, errors.NewIO("spool", name, err)
	}

	src, err := NewFile(name, tmp, opts)
	if err != nil {
		cleanup()
		return nil, err
	}
	path := tmp.Name()
	src.onClose = func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewIO("remove spool for", name, err)
		}
		return nil
	}
	return src, nil
}
