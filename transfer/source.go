package transfer

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/machinebox/progress"
	"github.com/ulikunitz/xz"
)

const xzReadBufferSize = 0x100_000

// source streams the image. Progress is measured on the bytes consumed
// from the file, so compressed images report against their on-disk size.
type source struct {
	f          *os.File
	counter    *progress.Reader
	r          io.Reader
	size       int64
	compressed bool
}

func openSource(path string) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	compressed, err := isXZ(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	size := sourceSize(f)

	s := &source{f: f, counter: progress.NewReader(f), size: size, compressed: compressed}
	s.r = s.counter
	if compressed {
		xr, err := xz.NewReader(bufio.NewReaderSize(s.counter, xzReadBufferSize))
		if err != nil {
			f.Close()
			return nil, err
		}
		s.r = xr
	}
	return s, nil
}

// Read returns io.EOF only at the real end of the image. The xz decoder
// reports a cut off stream as io.ErrUnexpectedEOF.
func (s *source) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if s.compressed && err == io.ErrUnexpectedEOF {
		err = fmt.Errorf("truncated xz stream: %w", err)
	}
	return n, err
}

// consumed is the number of bytes read from the underlying file so far.
func (s *source) consumed() int64 {
	return s.counter.N()
}

func (s *source) Close() error {
	return s.f.Close()
}

// IsCompressed reports whether the file at path starts with an xz header.
func IsCompressed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return isXZ(f)
}

func isXZ(f *os.File) (bool, error) {
	hdr := make([]byte, xz.HeaderLen)
	n, err := f.ReadAt(hdr, 0)
	if err != nil && err != io.EOF {
		return false, err
	}
	return n == xz.HeaderLen && xz.ValidHeader(hdr), nil
}

// sourceSize returns the byte length of f, or -1 if unknown. Block devices
// stat as size 0, so they are measured by seeking to the end.
func sourceSize(f *os.File) int64 {
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		return fi.Size()
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil || size <= 0 {
		return -1
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return -1
	}
	return size
}
