package csblob

import (
	"bytes"
	"encoding/binary"
	"fmt"

	cstypes "github.com/blacktop/go-macho/pkg/codesign/types"
)

const (
	blobHeaderSize          = 8  // {magic, length}
	codeDirectoryHeaderSize = 44 // up to and including spare2
)

// CodeDirectory is the fixed-size prefix of a code directory blob.
type CodeDirectory struct {
	cstypes.BlobHeader
	cstypes.CdEarliest
}

func parseCodeDirectory(data []byte) (*CodeDirectory, error) {
	if len(data) < codeDirectoryHeaderSize {
		return nil, fmt.Errorf("%w: code directory header needs %d bytes, got %d", ErrBadLength, codeDirectoryHeaderSize, len(data))
	}
	cd := &CodeDirectory{}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &cd.BlobHeader); err != nil {
		return nil, fmt.Errorf("failed to read code directory blob header: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cd.CdEarliest); err != nil {
		return nil, fmt.Errorf("failed to read code directory header: %v", err)
	}
	return cd, nil
}

func parseBlobHeader(data []byte) (cstypes.BlobHeader, error) {
	var hdr cstypes.BlobHeader
	if len(data) < blobHeaderSize {
		return hdr, fmt.Errorf("%w: blob header needs %d bytes, got %d", ErrBadLength, blobHeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("failed to read blob header: %v", err)
	}
	return hdr, nil
}

// specialSlotOffset returns the offset, relative to the code directory, of
// the digest for special slot s. Negative when the slot precedes the
// directory.
func (cd *CodeDirectory) specialSlotOffset(s cstypes.SlotType) int64 {
	return int64(cd.HashOffset) - int64(s)*int64(cd.HashSize)
}
