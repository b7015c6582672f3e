// Package offsets holds the version-pinned kernel structure layouts used to
// reach a process's code-signing blob record.
package offsets

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	semver "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var builtinLayouts []byte

var (
	ErrNoLayout      = errors.New("offsets: no matching layout")
	ErrInvalidLayout = errors.New("offsets: invalid layout")
)

// RecordLayout describes where the fields of the kernel's cs_blob live.
type RecordLayout struct {
	Size             uint64 `yaml:"size"`
	Next             uint64 `yaml:"next"`
	CPUType          uint64 `yaml:"cpu_type"`
	Flags            uint64 `yaml:"flags"`
	BaseOffset       uint64 `yaml:"base_offset"`
	StartOffset      uint64 `yaml:"start_offset"`
	EndOffset        uint64 `yaml:"end_offset"`
	MemSize          uint64 `yaml:"mem_size"`
	MemOffset        uint64 `yaml:"mem_offset"`
	MemKaddr         uint64 `yaml:"mem_kaddr"`
	CDHash           uint64 `yaml:"cdhash"`
	CodeDirectory    uint64 `yaml:"cd"`
	TeamID           uint64 `yaml:"teamid"`
	EntitlementsBlob uint64 `yaml:"entitlements_blob"`
}

// Layout is one target's set of struct-field offsets.
type Layout struct {
	Name        string `yaml:"name"`
	Constraints string `yaml:"constraints,omitempty"`
	// PAC marks pointer-authentication capable targets.
	PAC  bool `yaml:"pac"`
	Proc struct {
		TextVnode uint64 `yaml:"textvp"`
	} `yaml:"proc"`
	Vnode struct {
		UbcInfo uint64 `yaml:"ubcinfo"`
	} `yaml:"vnode"`
	UbcInfo struct {
		CSBlobs uint64 `yaml:"csblobs"`
	} `yaml:"ubcinfo"`
	Record RecordLayout `yaml:"csblob"`
}

// Validate checks that every record field fits inside the record.
func (l *Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidLayout)
	}
	r := l.Record
	fields := []struct {
		name  string
		off   uint64
		width uint64
	}{
		{"next", r.Next, 8},
		{"cpu_type", r.CPUType, 4},
		{"flags", r.Flags, 4},
		{"base_offset", r.BaseOffset, 8},
		{"start_offset", r.StartOffset, 8},
		{"end_offset", r.EndOffset, 8},
		{"mem_size", r.MemSize, 8},
		{"mem_offset", r.MemOffset, 8},
		{"mem_kaddr", r.MemKaddr, 8},
		{"cdhash", r.CDHash, 20},
		{"cd", r.CodeDirectory, 8},
		{"teamid", r.TeamID, 8},
		{"entitlements_blob", r.EntitlementsBlob, 8},
	}
	for _, f := range fields {
		if f.off+f.width > r.Size {
			return fmt.Errorf("%w: %s: csblob.%s at %#x overflows record size %#x", ErrInvalidLayout, l.Name, f.name, f.off, r.Size)
		}
	}
	if l.Constraints != "" {
		if _, err := semver.NewConstraint(l.Constraints); err != nil {
			return fmt.Errorf("%w: %s: bad constraints %q: %v", ErrInvalidLayout, l.Name, l.Constraints, err)
		}
	}
	return nil
}

// Matches reports whether the layout applies to the given OS version.
func (l *Layout) Matches(version string) (bool, error) {
	if l.Constraints == "" {
		return false, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("offsets: bad version %q: %v", version, err)
	}
	c, err := semver.NewConstraint(l.Constraints)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

type file struct {
	Layouts []*Layout `yaml:"layouts"`
}

// Registry is a set of named layouts. Later additions shadow earlier ones.
type Registry struct {
	layouts map[string]*Layout
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{layouts: make(map[string]*Layout)}
}

// Builtin returns a registry populated with the embedded layouts.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	if err := r.Load(bytes.NewReader(builtinLayouts)); err != nil {
		return nil, fmt.Errorf("offsets: failed to load builtin layouts: %w", err)
	}
	return r, nil
}

// Load parses a YAML layouts document and adds every layout in it.
func (r *Registry) Load(rd io.Reader) error {
	var f file
	if err := yaml.NewDecoder(rd).Decode(&f); err != nil {
		return fmt.Errorf("offsets: failed to decode layouts: %w", err)
	}
	for _, l := range f.Layouts {
		if err := r.Add(l); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile adds the layouts found in a YAML file.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("offsets: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return r.Load(f)
}

func (r *Registry) Add(l *Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if _, ok := r.layouts[l.Name]; !ok {
		r.order = append(r.order, l.Name)
	}
	r.layouts[l.Name] = l
	return nil
}

// Get returns the layout registered under name.
func (r *Registry) Get(name string) (*Layout, error) {
	if l, ok := r.layouts[name]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoLayout, name)
}

// Lookup returns the layout whose constraints match version and whose
// PAC capability equals pac.
func (r *Registry) Lookup(version string, pac bool) (*Layout, error) {
	var found []*Layout
	for _, name := range r.order {
		l := r.layouts[name]
		ok, err := l.Matches(version)
		if err != nil {
			return nil, err
		}
		if ok && l.PAC == pac {
			found = append(found, l)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: version %s (pac=%t)", ErrNoLayout, version, pac)
	case 1:
		return found[0], nil
	}
	// last match in registration order wins so user files can override
	return found[len(found)-1], nil
}

// Names returns the registered layout names sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}
