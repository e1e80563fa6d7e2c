package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

// dirBatch is the number of entries fetched from the stream at a time.
const dirBatch = 64

var errNotDir = errors.New("not a directory")

// Dir is a sequential directory handle. It is not safe for concurrent use.
type Dir struct {
	f       afero.File
	pending []os.FileInfo
	done    bool
}

// OpenDir opens the directory name on fsys.
func OpenDir(fsys afero.Fs, name string) (*Dir, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "opendir", Path: name, Err: errNotDir}
	}

	return &Dir{f: f}, nil
}

// Read returns the next entry, or io.EOF once the directory is exhausted.
func (d *Dir) Read() (os.FileInfo, error) {
	if d.f == nil {
		return nil, ErrClosed
	}

	if len(d.pending) == 0 {
		if d.done {
			return nil, io.EOF
		}
		infos, err := d.f.Readdir(dirBatch)
		if len(infos) == 0 {
			d.done = true
			if err == nil || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if err != nil {
			d.done = true
		}
		d.pending = infos
	}

	info := d.pending[0]
	d.pending = d.pending[1:]
	return info, nil
}

// Close releases the directory stream. Closing a closed Dir is a no-op.
func (d *Dir) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	d.pending = nil
	return err
}
