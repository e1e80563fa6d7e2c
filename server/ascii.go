package server

import "io"

// asciiBufferSize is the read size of the ASCII translators.
const asciiBufferSize = 32 * 1024

// asciiEncoder converts LF to CRLF on the fly for downloads in TYPE A.
// Line endings that already are CRLF pass through unchanged.
type asciiEncoder struct {
	r      io.Reader
	in     []byte
	out    []byte
	buf    []byte
	prevCR bool
	err    error
}

func newASCIIEncoder(r io.Reader) *asciiEncoder {
	return &asciiEncoder{
		r:   r,
		in:  make([]byte, asciiBufferSize),
		buf: make([]byte, 0, 2*asciiBufferSize),
	}
}

func (e *asciiEncoder) Read(p []byte) (int, error) {
	for len(e.out) == 0 {
		if e.err != nil {
			return 0, e.err
		}
		n, err := e.r.Read(e.in)
		e.err = err

		out := e.buf[:0]
		for _, b := range e.in[:n] {
			if b == '\n' && !e.prevCR {
				out = append(out, '\r')
			}
			out = append(out, b)
			e.prevCR = b == '\r'
		}
		e.out = out
	}

	n := copy(p, e.out)
	e.out = e.out[n:]
	return n, nil
}

// asciiDecoder converts CRLF to LF on the fly for uploads in TYPE A.
// A CR not followed by LF is kept.
type asciiDecoder struct {
	r       io.Reader
	in      []byte
	out     []byte
	buf     []byte
	pending bool // a CR was read and its successor is not known yet
	err     error
}

func newASCIIDecoder(r io.Reader) *asciiDecoder {
	return &asciiDecoder{
		r:   r,
		in:  make([]byte, asciiBufferSize),
		buf: make([]byte, 0, asciiBufferSize+1),
	}
}

func (d *asciiDecoder) Read(p []byte) (int, error) {
	for len(d.out) == 0 {
		if d.err != nil {
			if d.pending {
				d.pending = false
				d.out = append(d.buf[:0], '\r')
				break
			}
			return 0, d.err
		}
		n, err := d.r.Read(d.in)
		d.err = err

		out := d.buf[:0]
		for _, b := range d.in[:n] {
			if d.pending {
				d.pending = false
				if b != '\n' {
					out = append(out, '\r')
				}
			}
			if b == '\r' {
				d.pending = true
				continue
			}
			out = append(out, b)
		}
		d.out = out
	}

	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}
