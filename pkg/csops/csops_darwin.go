//go:build darwin

package csops

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func csops(pid int, op Op, buf []byte) (int, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_CSOPS,
		uintptr(pid),
		uintptr(op),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0, 0)
	status := int(int32(r1))
	if errno != 0 {
		if status == 0 {
			status = -1
		}
		return status, fmt.Errorf("csops(%d, %d): %w", pid, op, errno)
	}
	return status, nil
}
