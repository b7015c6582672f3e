// Package gdbremote implements kmem.Kernel over the GDB remote serial
// protocol, as exposed by kernel debug stubs of virtualized targets.
package gdbremote

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/caarlos0/env/v8"
	"github.com/pkg/errors"

	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// Hex is a uint64 that parses from "0x..." strings.
type Hex uint64

func (h *Hex) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return err
	}
	*h = Hex(v)
	return nil
}

// Config configures the stub connection and the allocation arena.
type Config struct {
	Addr string `env:"KMEM_GDB_ADDR" envDefault:"127.0.0.1:8864"`
	// Arena is a kernel range reserved by the caller that Alloc carves up.
	Arena      Hex           `env:"KMEM_GDB_ARENA"`
	ArenaSize  Hex           `env:"KMEM_GDB_ARENA_SIZE" envDefault:"0x100000"`
	PacketSize int           `env:"KMEM_GDB_PACKET_SIZE" envDefault:"2048"`
	Timeout    time.Duration `env:"KMEM_GDB_TIMEOUT" envDefault:"5s"`
}

// ConfigFromEnv reads the KMEM_GDB_* variables.
func ConfigFromEnv() (*Config, error) {
	conf := &Config{}
	if err := env.Parse(conf); err != nil {
		return nil, fmt.Errorf("gdbremote: failed to parse environment: %v", err)
	}
	return conf, nil
}

// Client is a kernel memory accessor backed by a GDB stub.
type Client struct {
	conn       *Conn
	closer     io.Closer
	packetSize int
	next       kmem.Addr
	end        kmem.Addr
}

// Dial connects to the stub at conf.Addr and disables acknowledgements.
func Dial(conf *Config) (*Client, error) {
	nc, err := net.DialTimeout("tcp", conf.Addr, conf.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to gdb stub at %s", conf.Addr)
	}
	c := New(nc, conf)
	c.closer = nc
	if err := c.Handshake(); err != nil {
		nc.Close()
		return nil, err
	}
	log.WithField("addr", conf.Addr).Debug("Connected to gdb stub")
	return c, nil
}

// New wraps an established stream.
func New(rw io.ReadWriter, conf *Config) *Client {
	size := conf.PacketSize
	if size <= 0 {
		size = 2048
	}
	c := &Client{
		conn:       NewConn(rw),
		packetSize: size,
	}
	if conf.Arena != 0 {
		c.next = kmem.Addr(conf.Arena)
		c.end = kmem.Addr(conf.Arena) + kmem.Addr(conf.ArenaSize)
	}
	return c
}

// Handshake switches the stub to no-ack mode.
func (c *Client) Handshake() error {
	reply, err := c.conn.Request("QStartNoAckMode")
	if err != nil {
		return errors.Wrap(err, "QStartNoAckMode")
	}
	if reply != "OK" {
		return fmt.Errorf("gdbremote: stub refused no-ack mode: %q", reply)
	}
	c.conn.noAck = true
	return nil
}

func (c *Client) Read(addr kmem.Addr, buf []byte) error {
	for done := 0; done < len(buf); {
		n := min(len(buf)-done, c.packetSize)
		at := addr.Add(uint64(done))
		reply, err := c.conn.Request(fmt.Sprintf("m%x,%x", uint64(at), n))
		if err != nil {
			return errors.Wrapf(err, "failed to read %d bytes at %s", n, at)
		}
		if err := remoteError(reply); err != nil {
			return errors.Wrapf(err, "failed to read %d bytes at %s", n, at)
		}
		data, err := hex.DecodeString(reply)
		if err != nil {
			return errors.Wrapf(err, "bad read reply at %s", at)
		}
		if len(data) != n {
			return errors.Wrapf(kmem.ErrShortTransfer, "read %d of %d bytes at %s", len(data), n, at)
		}
		copy(buf[done:], data)
		done += n
	}
	return nil
}

func (c *Client) Write(addr kmem.Addr, data []byte) error {
	// each byte is two hex characters on the wire
	chunk := max(c.packetSize/2, 1)
	for done := 0; done < len(data); {
		n := min(len(data)-done, chunk)
		at := addr.Add(uint64(done))
		reply, err := c.conn.Request(fmt.Sprintf("M%x,%x:%s", uint64(at), n, hex.EncodeToString(data[done:done+n])))
		if err != nil {
			return errors.Wrapf(err, "failed to write %d bytes at %s", n, at)
		}
		if reply != "OK" {
			if err := remoteError(reply); err != nil {
				return errors.Wrapf(err, "failed to write %d bytes at %s", n, at)
			}
			return errors.Wrapf(kmem.ErrShortTransfer, "unexpected write reply %q at %s", reply, at)
		}
		done += n
	}
	return nil
}

// Alloc hands out 16-byte aligned ranges of the configured arena. Ranges are
// never returned.
func (c *Client) Alloc(size uint64) (kmem.Addr, error) {
	if size == 0 {
		return 0, fmt.Errorf("gdbremote: zero sized allocation")
	}
	if c.end == 0 {
		return 0, fmt.Errorf("gdbremote: no allocation arena configured (KMEM_GDB_ARENA)")
	}
	base := (c.next + 15) &^ 15
	if base < c.next || base+kmem.Addr(size) > c.end || base+kmem.Addr(size) < base {
		return 0, fmt.Errorf("gdbremote: arena exhausted allocating %d bytes (next %s, end %s)", size, c.next, c.end)
	}
	c.next = base + kmem.Addr(size)
	return base, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

var _ kmem.Kernel = (*Client)(nil)
