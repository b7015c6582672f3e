package csblob

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
	"github.com/stretchr/testify/require"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem/kmemtest"
)

const (
	procAddr   kmem.Addr = 0xffffffe030000000
	vnodeAddr  kmem.Addr = 0xffffffe031000000
	ubcAddr    kmem.Addr = 0xffffffe032000000
	recordAddr kmem.Addr = 0xffffffe020000000
	regionBase kmem.Addr = 0xffffffe010000000

	regionSize = 0x400
	cdOff      = 0x40
	entOff     = 0x200
	teamOff    = 0x300
	hashOffset = 0x100
	slotOff    = cdOff + hashOffset - 5*32
)

const originalEntitlements = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>application-identifier</key><string>ABCDE.com.example</string></dict></plist>
`

type imageOpts struct {
	blobLength uint32
	magic      cstypes.Magic
	hashSize   uint8
	badDigest  bool
	noTeamID   bool
}

type fixture struct {
	mem    *kmemtest.Memory
	layout *offsets.Layout
}

func defaultOpts() imageOpts {
	return imageOpts{
		blobLength: 256,
		magic:      cstypes.MAGIC_CODEDIRECTORY,
		hashSize:   32,
	}
}

func newFixture(t *testing.T, pac bool, mods ...func(*imageOpts)) *fixture {
	t.Helper()
	opts := defaultOpts()
	for _, mod := range mods {
		mod(&opts)
	}

	reg, err := offsets.Builtin()
	require.NoError(t, err)
	name := "ios12-arm64"
	if pac {
		name = "ios12-arm64e"
	}
	layout, err := reg.Get(name)
	require.NoError(t, err)

	region := make([]byte, regionSize)
	putCodeDirectory(t, region[cdOff:], &CodeDirectory{
		BlobHeader: cstypes.BlobHeader{Magic: opts.magic, Length: hashOffset},
		CdEarliest: cstypes.CdEarliest{
			Version:       cstypes.SUPPORTS_EXECSEG,
			HashOffset:    hashOffset,
			IdentOffset:   codeDirectoryHeaderSize,
			NSpecialSlots: 5,
			HashSize:      opts.hashSize,
			HashType:      cstypes.HASHTYPE_SHA256,
			PageSize:      12,
		},
	})

	binary.BigEndian.PutUint32(region[entOff:], uint32(cstypes.MAGIC_EMBEDDED_ENTITLEMENTS))
	binary.BigEndian.PutUint32(region[entOff+4:], opts.blobLength)
	copy(region[entOff+8:], originalEntitlements)
	copy(region[teamOff:], "ABCDE\x00")

	if opts.blobLength >= 8 && entOff+int(opts.blobLength) <= regionSize {
		sum := sha256.Sum256(region[entOff : entOff+int(opts.blobLength)])
		if opts.badDigest {
			sum[0] ^= 0xff
		}
		copy(region[slotOff:], sum[:])
	}

	l := layout.Record
	record := make([]byte, l.Size)
	le := binary.LittleEndian
	le.PutUint32(record[l.CPUType:], 0x0100000c)
	le.PutUint64(record[l.EndOffset:], 0x8000)
	le.PutUint64(record[l.MemSize:], regionSize)
	le.PutUint64(record[l.MemKaddr:], uint64(regionBase))
	le.PutUint64(record[l.CodeDirectory:], uint64(regionBase+cdOff))
	le.PutUint64(record[l.EntitlementsBlob:], uint64(regionBase+entOff))
	if !opts.noTeamID {
		le.PutUint64(record[l.TeamID:], uint64(regionBase+teamOff))
	}
	for i := 0; i < cstypes.CDHASH_LEN; i++ {
		record[l.CDHash+uint64(i)] = byte(0xa0 + i)
	}

	mem := kmemtest.New()
	mem.Map(regionBase, region)
	mem.Map(recordAddr, record)
	mem.Map(procAddr, ptrAt(layout.Proc.TextVnode, vnodeAddr))
	mem.Map(vnodeAddr, ptrAt(layout.Vnode.UbcInfo, ubcAddr))
	mem.Map(ubcAddr, ptrAt(layout.UbcInfo.CSBlobs, recordAddr))

	return &fixture{mem: mem, layout: layout}
}

// putCodeDirectory encodes the big-endian header of cd at the start of out.
func putCodeDirectory(t *testing.T, out []byte, cd *CodeDirectory) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, cd.BlobHeader))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, cd.CdEarliest))
	require.Equal(t, codeDirectoryHeaderSize, buf.Len())
	copy(out, buf.Bytes())
}

// ptrAt returns a zeroed structure with ptr stored at off.
func ptrAt(off uint64, ptr kmem.Addr) []byte {
	buf := make([]byte, off+8)
	binary.LittleEndian.PutUint64(buf[off:], uint64(ptr))
	return buf
}

type fakeQuerier struct {
	status int
	err    error
	pids   []int
	blobs  [][]byte
}

func (q *fakeQuerier) EntitlementsBlob(pid int, buf []byte) (int, error) {
	q.pids = append(q.pids, pid)
	q.blobs = append(q.blobs, append([]byte(nil), buf...))
	return q.status, q.err
}

type recordingMonitor struct {
	calls []string
	base  kmem.Addr
}

func (m *recordingMonitor) Unregister(record kmem.Addr) error {
	m.calls = append(m.calls, "unregister")
	return nil
}

func (m *recordingMonitor) Register(record kmem.Addr, blob *BlobRecord) error {
	m.calls = append(m.calls, "register")
	m.base = blob.Region.Base
	return nil
}

func (f *fixture) patcher(t *testing.T, q *fakeQuerier, mods ...func(*Config)) *Patcher {
	t.Helper()
	conf := &Config{
		Kernel:  f.mem,
		Layout:  f.layout,
		Querier: q,
		PID:     1337,
	}
	for _, mod := range mods {
		mod(conf)
	}
	p, err := New(conf)
	require.NoError(t, err)
	return p
}
