package server

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestASCIIEncoder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ""},
		{"No newline", "abc", "abc"},
		{"LF", "a\nb\n", "a\r\nb\r\n"},
		{"Already CRLF", "a\r\nb\r\n", "a\r\nb\r\n"},
		{"Mixed", "a\nb\r\nc\n", "a\r\nb\r\nc\r\n"},
		{"Lone CR", "a\rb", "a\rb"},
		{"Blank lines", "\n\n", "\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newASCIIEncoder(bytes.NewReader([]byte(tt.in))))
			fatalIfErr(t, err, "ReadAll")
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}

			// Byte-at-a-time input must not lose the CR before an LF.
			got, err = io.ReadAll(newASCIIEncoder(iotest.OneByteReader(bytes.NewReader([]byte(tt.in)))))
			fatalIfErr(t, err, "ReadAll one byte")
			if string(got) != tt.want {
				t.Errorf("one byte: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestASCIIDecoder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ""},
		{"CRLF", "a\r\nb\r\n", "a\nb\n"},
		{"Bare LF", "a\nb", "a\nb"},
		{"Lone CR", "a\rb", "a\rb"},
		{"Trailing CR", "abc\r", "abc\r"},
		{"CR CR LF", "a\r\r\n", "a\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newASCIIDecoder(bytes.NewReader([]byte(tt.in))))
			fatalIfErr(t, err, "ReadAll")
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}

			got, err = io.ReadAll(newASCIIDecoder(iotest.OneByteReader(bytes.NewReader([]byte(tt.in)))))
			fatalIfErr(t, err, "ReadAll one byte")
			if string(got) != tt.want {
				t.Errorf("one byte: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	// Larger than one translator buffer, with a CRLF straddling the edge.
	var src bytes.Buffer
	for src.Len() < 3*asciiBufferSize {
		src.WriteString("line of text\n")
	}

	encoded, err := io.ReadAll(newASCIIEncoder(bytes.NewReader(src.Bytes())))
	fatalIfErr(t, err, "encode")
	decoded, err := io.ReadAll(newASCIIDecoder(bytes.NewReader(encoded)))
	fatalIfErr(t, err, "decode")

	if !bytes.Equal(decoded, src.Bytes()) {
		t.Errorf("round trip mismatch: %d bytes in, %d bytes out", src.Len(), len(decoded))
	}
}
