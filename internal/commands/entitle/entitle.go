// Package entitle wires configuration, kernel access and the patcher
// together for the vswap commands.
package entitle

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	"github.com/fatih/color"

	"github.com/ant4g0nist/voucher-swap/internal/config"
	"github.com/ant4g0nist/voucher-swap/pkg/csblob"
	"github.com/ant4g0nist/voucher-swap/pkg/csops"
	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem/gdbremote"
)

var colorHeader = color.New(color.Bold, color.FgHiMagenta).SprintFunc()
var colorKey = color.New(color.Bold, color.FgHiGreen).SprintFunc()
var colorValue = color.New(color.Bold, color.FgHiBlue).SprintFunc()

// Config holds the per-invocation options.
type Config struct {
	Proc      string
	Fragment  string
	PlistFile string
	Check     bool
	Verbose   bool
	Color     bool

	Settings *config.Config

	// Kernel overrides the configured backend.
	Kernel  kmem.Kernel
	Querier csops.Querier
	Output  io.Writer
}

func (c *Config) out() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

// ParseAddr parses a kernel address given in hex with or without 0x.
func ParseAddr(s string) (kmem.Addr, error) {
	digits := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad kernel address %q: %v", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("bad kernel address %q: must not be zero", s)
	}
	return kmem.Addr(v), nil
}

// ResolveLayout picks the offset layout named in settings, or the one whose
// version constraints match.
func ResolveLayout(s *config.Config) (*offsets.Layout, error) {
	reg, err := offsets.Builtin()
	if err != nil {
		return nil, err
	}
	if s.Offsets.File != "" {
		if err := reg.LoadFile(s.Offsets.File); err != nil {
			return nil, err
		}
	}
	if s.Offsets.Layout != "" {
		return reg.Get(s.Offsets.Layout)
	}
	return reg.Lookup(s.Offsets.Version, s.Offsets.PAC)
}

// OpenKernel connects to the configured kernel memory backend.
func OpenKernel(s *config.Config) (kmem.Kernel, io.Closer, error) {
	switch s.Kmem.Backend {
	case "gdb", "":
		gconf, err := s.GDBConfig()
		if err != nil {
			return nil, nil, err
		}
		c, err := gdbremote.Dial(gconf)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, fmt.Errorf("unsupported kmem backend %q", s.Kmem.Backend)
}

// fragment returns the entitlements fragment from --ent or --plist.
func (c *Config) fragment() (string, error) {
	if c.PlistFile != "" {
		data, err := os.ReadFile(c.PlistFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %v", c.PlistFile, err)
		}
		return csblob.FragmentFromPlist(data)
	}
	return c.Fragment, nil
}

func (c *Config) echo(label string, payload []byte) {
	text := csblob.Text(payload)
	if c.Color {
		fmt.Fprintf(c.out(), "%s: {\n", colorHeader(label))
		quick.Highlight(c.out(), text, "xml", "terminal256", "nord")
		fmt.Fprintln(c.out(), "}")
		return
	}
	fmt.Fprintf(c.out(), "%s: {%s}\n", label, text)
}

func (c *Config) patcher() (*csblob.Patcher, io.Closer, error) {
	if c.Settings == nil {
		return nil, nil, fmt.Errorf("no configuration loaded")
	}
	layout, err := ResolveLayout(c.Settings)
	if err != nil {
		return nil, nil, err
	}
	k, closer := c.Kernel, io.Closer(nil)
	if k == nil {
		if k, closer, err = OpenKernel(c.Settings); err != nil {
			return nil, nil, err
		}
	}
	p, err := csblob.New(&csblob.Config{
		Kernel:   k,
		Layout:   layout,
		Strategy: c.Settings.Strategy,
		Querier:  c.Querier,
		Check:    c.Check,
		Verbose:  c.Verbose,
		Echo:     c.echo,
	})
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"layout":   layout.Name,
		"strategy": p.Strategy(),
	}).Debug("Patcher ready")
	return p, closer, nil
}

// Run patches the entitlements of the configured proc and returns the
// status the command exits with.
func Run(c *Config) (int, error) {
	proc, err := ParseAddr(c.Proc)
	if err != nil {
		return -1, err
	}
	frag, err := c.fragment()
	if err != nil {
		return -1, err
	}
	p, closer, err := c.patcher()
	if err != nil {
		return -1, err
	}
	if closer != nil {
		defer closer.Close()
	}

	res, err := p.Entitle(proc, frag)
	if err != nil {
		if !csblob.IsLocal(err) {
			log.Warn("kernel state was modified before the failure and has not been rolled back")
		}
		return csblob.Status(err), err
	}
	log.WithFields(log.Fields{
		"record":   res.Record,
		"strategy": res.Strategy,
		"digest":   fmt.Sprintf("%x", res.Digest),
	}).Info("Entitlements replaced")
	if res.Strategy == csblob.StrategyCopy {
		log.WithField("region", res.Region.Base).Warn("Relocated signature region is not registered with the code-signing monitor")
	}
	return 0, nil
}

// Dump prints the current, validated entitlements of the configured proc.
func Dump(c *Config) error {
	proc, err := ParseAddr(c.Proc)
	if err != nil {
		return err
	}
	p, closer, err := c.patcher()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	in, err := p.Inspect(proc)
	if err != nil {
		return err
	}
	s := in.Snapshot
	w := c.out()
	fmt.Fprintf(w, "%s      %s\n", colorKey("record"), colorValue(s.Record))
	fmt.Fprintf(w, "%s    %s\n", colorKey("strategy"), colorValue(in.Strategy))
	if s.Blob != nil {
		fmt.Fprintf(w, "%s         %s\n", colorKey("cpu"), colorValue(s.Blob.CPUType))
		fmt.Fprintf(w, "%s      %s (%#x bytes)\n", colorKey("region"), colorValue(s.Blob.Region.Base), s.Blob.Region.Size)
		fmt.Fprintf(w, "%s      %s\n", colorKey("cdhash"), colorValue(fmt.Sprintf("%x", s.Blob.CDHash)))
	}
	fmt.Fprintf(w, "%s   %s\n", colorKey("hash type"), colorValue(s.CodeDirectory.HashType))
	fmt.Fprintf(w, "%s   %s\n", colorKey("ents hash"), colorValue(fmt.Sprintf("%x", s.StoredDigest())))
	fmt.Fprintf(w, "%s   %d\n", colorKey("ents size"), s.Length())

	text := csblob.Text(s.Payload())
	var ents map[string]any
	if err := plist.NewDecoder(bytes.NewReader([]byte(text))).Decode(&ents); err != nil {
		log.Warnf("current entitlements do not decode as a plist: %v", err)
	} else {
		fmt.Fprintf(w, "%s        %d\n", colorKey("keys"), len(ents))
	}
	fmt.Fprintln(w)
	if c.Color {
		return quick.Highlight(w, text, "xml", "terminal256", "nord")
	}
	fmt.Fprintln(w, text)
	return nil
}
