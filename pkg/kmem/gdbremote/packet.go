package gdbremote

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrChecksum = errors.New("gdbremote: bad packet checksum")

// Conn frames GDB remote serial protocol packets over a byte stream.
type Conn struct {
	rw      io.ReadWriter
	scanner *bufio.Scanner
	noAck   bool
}

func splitPacket(data []byte, atEOF bool) (advance int, token []byte, err error) {
	const lenPacketSuffix = 3
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.IndexByte(data, '$')
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.IndexByte(data[start:], '#')
	if end < 0 || len(data) < start+end+lenPacketSuffix {
		if atEOF {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, nil
	}
	end += start

	// token keeps the checksum so Recv can verify it
	return end + lenPacketSuffix, data[start+1 : end+lenPacketSuffix], nil
}

func NewConn(rw io.ReadWriter) *Conn {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitPacket)
	return &Conn{rw: rw, scanner: scanner}
}

func checksum(pck string) string {
	sum := 0
	for i := 0; i < len(pck); i++ {
		sum += int(pck[i])
	}
	return hex.EncodeToString([]byte{byte(sum % 256)})
}

func (c *Conn) formatPacket(pck string) string {
	if c.noAck {
		return "$" + pck + "#" + checksum(pck)
	}
	return "+$" + pck + "#" + checksum(pck)
}

// Recv returns the payload of the next packet, run-length encoding expanded.
func (c *Conn) Recv() (string, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	tok := c.scanner.Text()
	body, sum := tok[:len(tok)-3], tok[len(tok)-2:]
	if checksum(body) != sum {
		return "", fmt.Errorf("%w: %q", ErrChecksum, tok)
	}
	return expandRLE(body)
}

func (c *Conn) Send(req string) error {
	if _, err := io.WriteString(c.rw, c.formatPacket(req)); err != nil {
		return err
	}
	return nil
}

func (c *Conn) Request(req string) (string, error) {
	if err := c.Send(req); err != nil {
		return "", err
	}
	return c.Recv()
}

// expandRLE undoes the "c*n" run-length encoding stubs may apply to replies.
func expandRLE(s string) (string, error) {
	if !strings.Contains(s, "*") {
		return s, nil
	}
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] != '*' {
			out.WriteByte(s[i])
			continue
		}
		if i == 0 || i+1 >= len(s) {
			return "", fmt.Errorf("gdbremote: bad run-length encoding in %q", s)
		}
		n := int(s[i+1]) - 29
		prev := out.Bytes()[out.Len()-1]
		for j := 0; j < n; j++ {
			out.WriteByte(prev)
		}
		i++
	}
	return out.String(), nil
}

// remoteError decodes an "Exx" error reply. Hex payloads always have an even
// length so they never collide with it.
func remoteError(reply string) error {
	if len(reply) != 3 || reply[0] != 'E' {
		return nil
	}
	code, err := strconv.ParseUint(reply[1:3], 16, 8)
	if err != nil {
		return nil
	}
	return fmt.Errorf("gdbremote: remote error %#02x", code)
}
