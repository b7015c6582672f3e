package entitle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ant4g0nist/voucher-swap/internal/config"
	"github.com/ant4g0nist/voucher-swap/pkg/csblob"
	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem/kmemtest"
)

const (
	proc   kmem.Addr = 0xffffffe030000000
	vnode  kmem.Addr = 0xffffffe031000000
	ubc    kmem.Addr = 0xffffffe032000000
	record kmem.Addr = 0xffffffe020000000
	region kmem.Addr = 0xffffffe010000000
)

type okQuerier struct{ calls int }

func (q *okQuerier) EntitlementsBlob(pid int, buf []byte) (int, error) {
	q.calls++
	return 0, nil
}

func ptrAt(off uint64, ptr kmem.Addr) []byte {
	buf := make([]byte, off+8)
	binary.LittleEndian.PutUint64(buf[off:], uint64(ptr))
	return buf
}

// newImage maps a signed process for layout into a fake kernel.
func newImage(t *testing.T, layoutName string) *kmemtest.Memory {
	t.Helper()
	reg, err := offsets.Builtin()
	require.NoError(t, err)
	l, err := reg.Get(layoutName)
	require.NoError(t, err)

	const cdOff, entOff, hashOffset = 0x40, 0x200, 0x100
	mem := make([]byte, 0x400)
	var cd bytes.Buffer
	require.NoError(t, binary.Write(&cd, binary.BigEndian, cstypes.BlobHeader{
		Magic:  cstypes.MAGIC_CODEDIRECTORY,
		Length: hashOffset,
	}))
	require.NoError(t, binary.Write(&cd, binary.BigEndian, cstypes.CdEarliest{
		HashOffset:    hashOffset,
		NSpecialSlots: 5,
		HashSize:      cstypes.HASH_SIZE_SHA256,
		HashType:      cstypes.HASHTYPE_SHA256,
	}))
	copy(mem[cdOff:], cd.Bytes())
	doc := csblob.RenderEntitlements("<key>platform-application</key><true/>")
	binary.BigEndian.PutUint32(mem[entOff:], uint32(cstypes.MAGIC_EMBEDDED_ENTITLEMENTS))
	binary.BigEndian.PutUint32(mem[entOff+4:], 256)
	copy(mem[entOff+8:], doc)
	sum := sha256.Sum256(mem[entOff : entOff+256])
	copy(mem[cdOff+hashOffset-5*32:], sum[:])

	rec := make([]byte, l.Record.Size)
	le := binary.LittleEndian
	le.PutUint32(rec[l.Record.CPUType:], 0x0100000c)
	le.PutUint64(rec[l.Record.MemSize:], 0x400)
	le.PutUint64(rec[l.Record.MemKaddr:], uint64(region))
	le.PutUint64(rec[l.Record.CodeDirectory:], uint64(region+cdOff))
	le.PutUint64(rec[l.Record.EntitlementsBlob:], uint64(region+entOff))

	m := kmemtest.New()
	m.Map(region, mem)
	m.Map(record, rec)
	m.Map(proc, ptrAt(l.Proc.TextVnode, vnode))
	m.Map(vnode, ptrAt(l.Vnode.UbcInfo, ubc))
	m.Map(ubc, ptrAt(l.UbcInfo.CSBlobs, record))
	return m
}

func settings(layout string) *config.Config {
	c := &config.Config{}
	c.Offsets.Layout = layout
	return c
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    kmem.Addr
		wantErr bool
	}{
		{in: "0xffffffe030000000", want: proc},
		{in: "FFFFFFE030000000", want: proc},
		{in: " 0x10 ", want: 0x10},
		{in: "0x0", wantErr: true},
		{in: "proc", wantErr: true},
		{in: "", wantErr: true},
		{in: "  0xZZ ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), fmt.Sprintf("%q", tt.in), "error quotes the argument as given")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveLayout(t *testing.T) {
	tests := []struct {
		name    string
		offsets func(c *config.Config)
		want    string
		wantErr bool
	}{
		{
			name:    "by name",
			offsets: func(c *config.Config) { c.Offsets.Layout = "ios12-arm64" },
			want:    "ios12-arm64",
		},
		{
			name:    "by version",
			offsets: func(c *config.Config) { c.Offsets.Version = "12.1.2"; c.Offsets.PAC = true },
			want:    "ios12-arm64e",
		},
		{
			name:    "unknown version",
			offsets: func(c *config.Config) { c.Offsets.Version = "16.0" },
			wantErr: true,
		},
		{
			name:    "missing file",
			offsets: func(c *config.Config) { c.Offsets.Layout = "ios12-arm64"; c.Offsets.File = "/nonexistent/offsets.yaml" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &config.Config{}
			tt.offsets(c)
			l, err := ResolveLayout(c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.Name)
		})
	}
}

func TestRunDirect(t *testing.T) {
	mem := newImage(t, "ios12-arm64")
	q := &okQuerier{}
	var out bytes.Buffer
	status, err := Run(&Config{
		Proc:     proc.String(),
		Fragment: "<key>get-task-allow</key><true/>",
		Settings: settings("ios12-arm64"),
		Kernel:   mem,
		Querier:  q,
		Output:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, 1, q.calls)

	payload := mem.Bytes(region+0x208, 248)
	assert.True(t, strings.Contains(csblob.Text(payload), "<key>get-task-allow</key><true/>"))
	assert.Empty(t, mem.Allocs)
}

func TestRunCopyFromPlist(t *testing.T) {
	mem := newImage(t, "ios12-arm64e")
	path := filepath.Join(t.TempDir(), "ents.plist")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>task_for_pid-allow</key><true/></dict></plist>`), 0o644))

	status, err := Run(&Config{
		Proc:      proc.String(),
		PlistFile: path,
		Check:     true,
		Settings:  settings("ios12-arm64e"),
		Kernel:    mem,
		Querier:   &okQuerier{},
		Output:    &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	require.Len(t, mem.Allocs, 1)

	// the original region is left untouched
	orig := mem.Bytes(region+0x208, 248)
	assert.Contains(t, csblob.Text(orig), "platform-application")
	moved := mem.Bytes(mem.Allocs[0]+0x208, 248)
	assert.Contains(t, csblob.Text(moved), "<key>task_for_pid-allow</key><true/>")
}

func TestRunCapacity(t *testing.T) {
	mem := newImage(t, "ios12-arm64")
	status, err := Run(&Config{
		Proc:     proc.String(),
		Fragment: strings.Repeat("x", 256),
		Settings: settings("ios12-arm64"),
		Kernel:   mem,
		Querier:  &okQuerier{},
	})
	require.Error(t, err)
	assert.Equal(t, -1, status)
	assert.ErrorIs(t, err, csblob.ErrTooLong)
	assert.Empty(t, mem.Writes)
}

func TestDump(t *testing.T) {
	mem := newImage(t, "ios12-arm64")
	var out bytes.Buffer
	err := Dump(&Config{
		Proc:     proc.String(),
		Settings: settings("ios12-arm64"),
		Kernel:   mem,
		Output:   &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "<key>platform-application</key><true/>")
	assert.Contains(t, out.String(), cstypes.HASHTYPE_SHA256.String())
	assert.Empty(t, mem.Writes)
}
