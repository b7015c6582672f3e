package csblob

import (
	"fmt"

	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// Snapshot is a process-local copy of the parts of a signature the patcher
// reads and mutates.
type Snapshot struct {
	// Record is the kernel address of the cs_blob.
	Record kmem.Addr
	// Blob is the decoded record. Only the copy strategy reads it whole.
	Blob          *BlobRecord
	CodeDirectory *CodeDirectory
	// Entitlements is the entitlements blob, header included.
	Entitlements []byte

	// slot is the stored entitlements digest. For the copy strategy it
	// aliases region so digest updates land in the buffer that is published.
	slot []byte

	region   []byte
	slotAddr kmem.Addr
	blobAddr kmem.Addr
}

// Length returns the entitlements blob's total length.
func (s *Snapshot) Length() uint32 { return uint32(len(s.Entitlements)) }

// Payload returns the entitlements bytes following the blob header.
func (s *Snapshot) Payload() []byte { return s.Entitlements[blobHeaderSize:] }

// StoredDigest returns a copy of the digest currently held in the entitlements slot.
func (s *Snapshot) StoredDigest() []byte { return append([]byte(nil), s.slot...) }

// Strategy reads a signature out of kernel memory and publishes it back.
// Which one applies is a fixed property of the target.
type Strategy interface {
	Name() string
	// Read loads and structurally checks the signature hanging off record.
	Read(record kmem.Addr) (*Snapshot, error)
	// Commit makes the snapshot's entitlements and digest live.
	Commit(s *Snapshot) error
}

const (
	StrategyCopy   = "copy"
	StrategyDirect = "direct"
)

// NewStrategy returns the strategy matching the layout's PAC capability.
func NewStrategy(k kmem.Kernel, l *offsets.Layout, mon Monitor) Strategy {
	if l.PAC {
		return newCopyStrategy(k, l, mon)
	}
	return newDirectStrategy(k, l)
}

// StrategyByName builds a strategy explicitly.
func StrategyByName(name string, k kmem.Kernel, l *offsets.Layout, mon Monitor) (Strategy, error) {
	switch name {
	case "":
		return NewStrategy(k, l, mon), nil
	case StrategyCopy:
		return newCopyStrategy(k, l, mon), nil
	case StrategyDirect:
		return newDirectStrategy(k, l), nil
	}
	return nil, fmt.Errorf("csblob: unknown strategy %q (want %s or %s)", name, StrategyCopy, StrategyDirect)
}

func checkCodeDirectory(cd *CodeDirectory) error {
	if cd.Magic != cstypes.MAGIC_CODEDIRECTORY {
		return newError(KindStructural, "%w: code directory magic %s", ErrBadMagic, cd.Magic)
	}
	return nil
}

func checkHashSize(cd *CodeDirectory) error {
	if cd.HashSize != cstypes.HASH_SIZE_SHA256 {
		return newError(KindStructural, "%w: %d (%s)", ErrUnsupportedHash, cd.HashSize, cd.HashType)
	}
	return nil
}

func checkBlobLength(length uint32) error {
	if length < blobHeaderSize || length > MaxRegionSize {
		return newError(KindStructural, "%w: entitlements blob length %d", ErrBadLength, length)
	}
	return nil
}
