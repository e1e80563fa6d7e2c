// Package fsutil provides buffered file and directory handles on top of an
// afero filesystem, and a human-readable size formatter.
//
// The handles report failures as error values. ReadAll and WriteAll either
// move exactly the requested number of bytes or fail; a partial count is
// never reported as success.
package fsutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// DefaultBufferSize is the I/O buffer size used by NewFile.
const DefaultBufferSize = 4096

var (
	// ErrShortRead is returned by ReadAll when the file ends (or a read
	// fails) before the buffer is filled.
	ErrShortRead = errors.New("fsutil: short read")

	// ErrShortWrite is returned by WriteAll when a write fails before the
	// whole buffer is written.
	ErrShortWrite = errors.New("fsutil: short write")

	// ErrClosed is returned when operating on a handle that is not open.
	ErrClosed = errors.New("fsutil: file not open")
)

type lastOp int

const (
	opNone lastOp = iota
	opRead
	opWrite
)

// File is a buffered file handle.
//
// The buffer size is configured independently of the handle lifetime:
// SetBufferSize may be called before or after Open, and every Open or
// Attach re-applies the configured size to the new handle. A size of 0
// disables buffering.
//
// Like C stdio, a File may be used for both reading and writing; pending
// writes are flushed before a read and read-ahead is discarded before a
// write or a seek.
type File struct {
	f          afero.File
	bufferSize int
	r          *bufio.Reader
	w          *bufio.Writer
	last       lastOp
}

// NewFile returns a closed File with DefaultBufferSize.
func NewFile() *File {
	return &File{bufferSize: DefaultBufferSize}
}

// Open opens name on fsys with the given flags and binds the configured
// buffer. Any previously open handle is closed first.
func (f *File) Open(fsys afero.Fs, name string, flag int, perm os.FileMode) error {
	if f.f != nil {
		if err := f.Close(); err != nil {
			return err
		}
	}

	af, err := fsys.OpenFile(name, flag, perm)
	if err != nil {
		return err
	}

	f.Attach(af)
	return nil
}

// Attach takes ownership of an already open afero.File.
func (f *File) Attach(af afero.File) {
	f.f = af
	f.last = opNone
	f.bind()
}

// BufferSize returns the configured buffer size.
func (f *File) BufferSize() int {
	return f.bufferSize
}

// SetBufferSize sets the I/O buffer size. It is a no-op when the size is
// unchanged. On an open handle pending writes are flushed and read-ahead is
// returned to the file before the new buffer is bound.
func (f *File) SetBufferSize(n int) error {
	if n < 0 {
		n = 0
	}
	if n == f.bufferSize {
		return nil
	}
	f.bufferSize = n

	if f.f == nil {
		return nil
	}
	if err := f.settle(); err != nil {
		return err
	}
	f.bind()
	return nil
}

func (f *File) bind() {
	if f.bufferSize == 0 {
		f.r = nil
		f.w = nil
		return
	}
	f.r = bufio.NewReaderSize(f.f, f.bufferSize)
	f.w = bufio.NewWriterSize(f.f, f.bufferSize)
}

// settle flushes pending writes and gives back unread buffered bytes, so
// the OS file offset matches the logical offset.
func (f *File) settle() error {
	switch f.last {
	case opWrite:
		if f.w != nil {
			if err := f.w.Flush(); err != nil {
				return err
			}
		}
	case opRead:
		if f.r != nil {
			if n := f.r.Buffered(); n > 0 {
				if _, err := f.f.Seek(-int64(n), io.SeekCurrent); err != nil {
					return err
				}
			}
			f.r.Reset(f.f)
		}
	}
	f.last = opNone
	return nil
}

// Read reads up to len(p) bytes.
func (f *File) Read(p []byte) (int, error) {
	if f.f == nil {
		return 0, ErrClosed
	}
	if f.last == opWrite {
		if err := f.settle(); err != nil {
			return 0, err
		}
	}
	f.last = opRead
	if f.r != nil {
		return f.r.Read(p)
	}
	return f.f.Read(p)
}

// Write writes p, possibly only into the buffer.
func (f *File) Write(p []byte) (int, error) {
	if f.f == nil {
		return 0, ErrClosed
	}
	if f.last == opRead {
		if err := f.settle(); err != nil {
			return 0, err
		}
	}
	f.last = opWrite
	if f.w != nil {
		return f.w.Write(p)
	}
	return f.f.Write(p)
}

// ReadAll fills p completely or returns an error wrapping ErrShortRead.
func (f *File) ReadAll(p []byte) error {
	for len(p) > 0 {
		n, err := f.Read(p)
		if n <= 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return ErrShortRead
			}
			return fmt.Errorf("%w: %w", ErrShortRead, err)
		}
		p = p[n:]
	}
	return nil
}

// WriteAll writes all of p or returns an error wrapping ErrShortWrite.
func (f *File) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if n <= 0 {
			if err == nil {
				return ErrShortWrite
			}
			return fmt.Errorf("%w: %w", ErrShortWrite, err)
		}
		p = p[n:]
		if err != nil && len(p) > 0 {
			return fmt.Errorf("%w: %w", ErrShortWrite, err)
		}
	}
	return nil
}

func (f *File) readByte() (byte, error) {
	if f.r != nil {
		if f.last == opWrite {
			if err := f.settle(); err != nil {
				return 0, err
			}
		}
		f.last = opRead
		return f.r.ReadByte()
	}

	var b [1]byte
	for {
		n, err := f.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadLine returns the next line without its LF (or CRLF) terminator. A
// final line without a terminator is returned as-is; after the last line
// ReadLine returns io.EOF.
func (f *File) ReadLine() (string, error) {
	if f.f == nil {
		return "", ErrClosed
	}

	var line []byte
	for {
		b, err := f.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				break
			}
			return "", err
		}
		if b == '\n' {
			break
		}
		line = append(line, b)
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// Seek sets the offset for the next Read or Write.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.f == nil {
		return 0, ErrClosed
	}
	if err := f.settle(); err != nil {
		return 0, err
	}
	return f.f.Seek(offset, whence)
}

// Flush writes any buffered data to the file.
func (f *File) Flush() error {
	if f.f == nil {
		return ErrClosed
	}
	if f.last == opWrite && f.w != nil {
		return f.w.Flush()
	}
	return nil
}

// Stat returns the FileInfo of the open file.
func (f *File) Stat() (os.FileInfo, error) {
	if f.f == nil {
		return nil, ErrClosed
	}
	return f.f.Stat()
}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	if f.f == nil {
		return ""
	}
	return f.f.Name()
}

// Close flushes and closes the handle. Closing a closed File is a no-op.
// The buffer stays allocated for the next Open.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}

	var result *multierror.Error
	if err := f.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.f.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	f.f = nil
	f.last = opNone
	if f.r != nil {
		f.r.Reset(nil)
	}
	if f.w != nil {
		f.w.Reset(nil)
	}
	return result.ErrorOrNil()
}
