package csblob

import (
	"github.com/apex/log"
	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
	"github.com/dustin/go-humanize"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// copyStrategy pulls the whole backing region into a local buffer and never
// chases pointers into it individually. Publishing relocates the region to
// a fresh allocation and repoints the record at it; the old region is left
// allocated.
type copyStrategy struct {
	k   kmem.Kernel
	l   *offsets.Layout
	mon Monitor
}

func newCopyStrategy(k kmem.Kernel, l *offsets.Layout, mon Monitor) *copyStrategy {
	if mon == nil {
		mon = NopMonitor{}
	}
	return &copyStrategy{k: k, l: l, mon: mon}
}

func (*copyStrategy) Name() string { return StrategyCopy }

func (c *copyStrategy) Read(record kmem.Addr) (*Snapshot, error) {
	raw := make([]byte, c.l.Record.Size)
	if err := c.k.Read(record, raw); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}
	rec, err := DecodeRecord(raw, &c.l.Record)
	if err != nil {
		return nil, err
	}

	region := make([]byte, rec.Region.Size)
	if err := c.k.Read(rec.Region.Base, region); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}
	log.WithFields(log.Fields{
		"base": rec.Region.Base,
		"size": humanize.Bytes(rec.Region.Size),
		"cpu":  rec.CPUType,
	}).Debug("Copied code signature region")

	cdOff := uint64(rec.CodeDirectory)
	if cdOff+codeDirectoryHeaderSize > rec.Region.Size {
		return nil, newError(KindStructural, "%w: code directory header at +%#x", ErrOutOfRegion, cdOff)
	}
	cd, err := parseCodeDirectory(region[cdOff:])
	if err != nil {
		return nil, &Error{Kind: KindStructural, Err: err}
	}
	if err := checkCodeDirectory(cd); err != nil {
		return nil, err
	}

	entOff := uint64(rec.EntitlementsBlob)
	hdr, err := parseBlobHeader(region[entOff:])
	if err != nil {
		return nil, &Error{Kind: KindStructural, Err: err}
	}
	if err := checkBlobLength(hdr.Length); err != nil {
		return nil, err
	}
	if entOff+uint64(hdr.Length) > rec.Region.Size {
		return nil, newError(KindStructural, "%w: entitlements blob +%#x length %d", ErrOutOfRegion, entOff, hdr.Length)
	}

	if err := checkHashSize(cd); err != nil {
		return nil, err
	}
	slotOff := int64(cdOff) + cd.specialSlotOffset(cstypes.CSSLOT_ENTITLEMENTS)
	if slotOff < 0 || uint64(slotOff)+cstypes.HASH_SIZE_SHA256 > rec.Region.Size {
		return nil, newError(KindStructural, "%w: entitlements hash slot at %+d", ErrOutOfRegion, slotOff)
	}

	return &Snapshot{
		Record:        record,
		Blob:          rec,
		CodeDirectory: cd,
		Entitlements:  region[entOff : entOff+uint64(hdr.Length)],
		slot:          region[slotOff : slotOff+cstypes.HASH_SIZE_SHA256],
		region:        region,
	}, nil
}

// Commit relocates the region: allocate, rebase, write region, write record.
func (c *copyStrategy) Commit(s *Snapshot) error {
	rec := s.Blob
	old := rec.Region.Base

	base, err := c.k.Alloc(rec.Region.Size)
	if err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	rec.Rebase(base)

	if err := c.k.Write(base, s.region); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	if err := c.k.Write(s.Record, rec.Encode()); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	log.WithFields(log.Fields{
		"old": old,
		"new": base,
	}).Debug("Relocated code signature region")

	if err := c.mon.Unregister(s.Record); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	if err := c.mon.Register(s.Record, rec); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	return nil
}
