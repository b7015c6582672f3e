//go:build !darwin

package csops

func csops(pid int, op Op, buf []byte) (int, error) {
	return -1, ErrUnsupported
}
