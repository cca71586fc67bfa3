// Package source provides read-only random access to a fixed-length byte
// sequence: a file, an in-memory buffer, or a window of either.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"
)

// ErrRead marks failures to read the underlying bytes.
var ErrRead = errors.New("source read failed")

// Source is what a merkle tree is built from.
type Source interface {
	io.ReaderAt
	Size() int64
}

type memSource struct {
	r *bytes.Reader
}

// FromBytes wraps b without copying it. b must not be modified afterwards.
func FromBytes(b []byte) Source { return memSource{r: bytes.NewReader(b)} }

func (m memSource) ReadAt(p []byte, off int64) (int, error) { return m.r.ReadAt(p, off) }
func (m memSource) Size() int64                             { return m.r.Size() }

// File is a Source backed by an open file. Close releases the handle.
type File struct {
	f    afero.File
	size int64
	name string

	// mu serializes ReadAt on filesystems whose handles keep a shared
	// cursor, such as afero.MemMapFs. OS files use pread and leave it nil.
	mu *sync.Mutex
}

// Open opens path on fs and records its size; the size is fixed from here on.
func Open(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrRead, path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrRead, path)
	}
	file := &File{f: f, size: st.Size(), name: path}
	if _, ok := fs.(*afero.OsFs); !ok {
		file.mu = &sync.Mutex{}
	}
	return file, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.mu != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	return f.f.ReadAt(p, off)
}

func (f *File) Size() int64  { return f.size }
func (f *File) Name() string { return f.name }
func (f *File) Close() error { return f.f.Close() }

// View is a window [Base, Base+Size) of a parent Source. Offsets passed to
// ReadAt are relative to Base.
type View struct {
	sr   *io.SectionReader
	base int64
}

// Section restricts src to [off, off+n).
func Section(src Source, off, n int64) (*View, error) {
	if off < 0 || n < 0 || off+n > src.Size() {
		return nil, fmt.Errorf("section [%d,%d) out of range for size %d", off, off+n, src.Size())
	}
	return &View{sr: io.NewSectionReader(src, off, n), base: off}, nil
}

func (v *View) ReadAt(p []byte, off int64) (int, error) { return v.sr.ReadAt(p, off) }
func (v *View) Size() int64                             { return v.sr.Size() }

// Base is the offset of the view inside its parent.
func (v *View) Base() int64 { return v.base }

// ReadBlock fills buf[:n] with the bytes at [off, off+n) or fails with ErrRead.
// A short read is a failure even when the source reports io.EOF.
func ReadBlock(src Source, off int64, buf []byte) error {
	n, err := src.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %d of %d bytes at offset %d: %w", ErrRead, n, len(buf), off, err)
}
