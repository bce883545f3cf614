package libc

import (
	"errors"
	"io"
)

// ErrShortWrite is returned by WriteAll when the kernel accepts zero bytes.
var ErrShortWrite = errors.New("write accepted no bytes")

// ReadFull reads exactly len(p) bytes, looping over partial reads. It returns
// io.ErrUnexpectedEOF when the descriptor ends early and io.EOF when it was empty.
func (c *C) ReadFull(fd int, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		r, err := c.Read(fd, p[n:])
		if err != nil {
			return n, err
		}
		if r == 0 {
			if n == 0 {
				return 0, io.EOF
			}
			return n, io.ErrUnexpectedEOF
		}
		n += r
	}
	return n, nil
}

// WriteAll writes all of p, looping over partial writes.
func (c *C) WriteAll(fd int, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		w, err := c.Write(fd, p[n:])
		if err != nil {
			return n, err
		}
		if w == 0 {
			return n, ErrShortWrite
		}
		n += w
	}
	return n, nil
}

// File is an io.ReadWriteCloser over a descriptor owned by the kernel behind c.
type File struct {
	c  *C
	fd int
}

// NewFile wraps fd. Closing the File closes fd.
func (c *C) NewFile(fd int) *File {
	return &File{c: c, fd: fd}
}

// Fd returns the descriptor.
func (f *File) Fd() int {
	return f.fd
}

// Read implements io.Reader. A zero-byte read of a non-empty buffer is io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.c.Read(f.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer; it only returns once all of p is written or an error occurs.
func (f *File) Write(p []byte) (int, error) {
	return f.c.WriteAll(f.fd, p)
}

// Close implements io.Closer.
func (f *File) Close() error {
	return f.c.Close(f.fd)
}
