package kvbig

import (
	"io"

	"github.com/pkg/errors"
)

// Framer cuts a byte stream into frames of a fixed size. Only the last frame
// may be shorter. Memory use is bounded by one frame.
type Framer struct {
	r    io.Reader
	buf  []byte
	done bool
}

func NewFramer(r io.Reader, size int) *Framer {
	return &Framer{r: r, buf: make([]byte, size)}
}

// Next returns the next frame, or io.EOF after the last one. The frame is
// only valid until the following call.
func (f *Framer) Next() ([]byte, error) {
	if f.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(f.r, f.buf)
	switch {
	case err == io.EOF:
		f.done = true
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		f.done = true
		return f.buf[:n], nil
	case err != nil:
		return nil, errors.Wrap(err, "read frame")
	}
	return f.buf, nil
}
