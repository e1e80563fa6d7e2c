package server

import (
	"bufio"
	"io"
)

// Telnet bytes that may show up on a control connection (RFC 854).
const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetDONT = 0xFE
	telnetDO   = 0xFD
	telnetWONT = 0xFC
	telnetWILL = 0xFB
	telnetSB   = 0xFA // subnegotiation begin
	telnetSE   = 0xF0 // subnegotiation end
)

type telnetState int

const (
	telnetData telnetState = iota
	telnetCommand          // after IAC
	telnetOption           // after IAC WILL/WONT/DO/DONT
	telnetSub              // inside IAC SB ... IAC SE
	telnetSubIAC           // IAC inside a subnegotiation
)

// telnetReader strips Telnet commands from a control connection. Clients
// send IAC IP / IAC DM around ABOR; an escaped IAC IAC yields 0xFF.
type telnetReader struct {
	reader *bufio.Reader
	state  telnetState
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{reader: bufio.NewReader(r)}
}

// Read returns as soon as it holds data and nothing more is buffered, so
// a command line is never held back waiting for network input.
func (t *telnetReader) Read(p []byte) (n int, err error) {
	for n < len(p) {
		if n > 0 && t.reader.Buffered() == 0 {
			return n, nil
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		switch t.state {
		case telnetData:
			if b == telnetIAC {
				t.state = telnetCommand
				continue
			}
			p[n] = b
			n++

		case telnetCommand:
			switch b {
			case telnetIAC:
				p[n] = telnetIAC
				n++
				t.state = telnetData
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				t.state = telnetOption
			case telnetSB:
				t.state = telnetSub
			default:
				t.state = telnetData
			}

		case telnetOption:
			t.state = telnetData

		case telnetSub:
			if b == telnetIAC {
				t.state = telnetSubIAC
			}

		case telnetSubIAC:
			if b == telnetSE {
				t.state = telnetData
			} else {
				t.state = telnetSub
			}
		}
	}
	return n, nil
}
