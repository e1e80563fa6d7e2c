package server

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

const (
	iac = "\xff"
	ip  = "\xf4" // interrupt process
	dm  = "\xf2" // data mark
)

func TestTelnetReader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain line", "USER anonymous\r\n", "USER anonymous\r\n"},
		{"option WILL", iac + "\xfb\x01ABC", "ABC"},
		{"option WONT", iac + "\xfc\x02DEF", "DEF"},
		{"option DO", iac + "\xfd\x03GHI", "GHI"},
		{"option DONT", iac + "\xfe\x04JKL", "JKL"},
		{"escaped IAC", "X" + iac + iac + "Y", "X\xffY"},
		{"negotiation inside a line", iac + "\xfd\x01USER " + iac + iac + "\r\n", "USER \xff\r\n"},
		{"two byte command", iac + "\xf1A", "A"},
		{"subnegotiation", "A" + iac + "\xfa\x18\x01" + iac + iac + "\x02" + iac + "\xf0B", "AB"},
		{"interrupt before ABOR", iac + ip + iac + dm + "ABOR\r\n", "ABOR\r\n"},
		{"IAC at end of input", "NOOP\r\n" + iac, "NOOP\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newTelnetReader(strings.NewReader(tt.in)))
			fatalIfErr(t, err, "ReadAll")
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}

			// Same result when the network hands over one byte at a time.
			got, err = io.ReadAll(newTelnetReader(iotest.OneByteReader(strings.NewReader(tt.in))))
			fatalIfErr(t, err, "ReadAll one byte")
			if string(got) != tt.want {
				t.Errorf("byte by byte: got %q, want %q", got, tt.want)
			}
		})
	}
}

// A line must be handed over without waiting for more input.
func TestTelnetReader_ReturnsBufferedData(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("PWD\r\n"))

	r := newTelnetReader(pr)
	buf := make([]byte, 64)
	n, err := r.Read(buf)
	fatalIfErr(t, err, "Read")
	if !bytes.Equal(buf[:n], []byte("PWD\r\n")) {
		t.Errorf("Read = %q", buf[:n])
	}
}
