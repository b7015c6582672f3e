// Package csops wraps the code-signing operations syscall.
package csops

import (
	"errors"
	"fmt"
)

// Op is a csops(2) operation selector.
type Op uint32

const (
	CS_OPS_STATUS            Op = 0  // return status
	CS_OPS_CDHASH            Op = 5  // get code directory hash
	CS_OPS_PIDOFFSET         Op = 6  // get offset of active Mach-o slice
	CS_OPS_ENTITLEMENTS_BLOB Op = 7  // get entitlements blob
	CS_OPS_IDENTITY          Op = 11 // get codesign identity
	CS_OPS_TEAMID            Op = 14 // get team id
)

var ErrUnsupported = errors.New("csops: not supported on this platform")

// Querier asks the operating system for a process's live entitlements.
type Querier interface {
	// EntitlementsBlob fills buf with the entitlements blob of pid and returns
	// the raw syscall status. A non-zero status comes with a non-nil error.
	EntitlementsBlob(pid int, buf []byte) (int, error)
}

// System issues the real syscall.
type System struct{}

func (System) EntitlementsBlob(pid int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return -1, fmt.Errorf("csops: empty buffer")
	}
	return csops(pid, CS_OPS_ENTITLEMENTS_BLOB, buf)
}
