package csblob

import (
	"errors"
	"fmt"
)

// Kind groups failures by how far the operation got.
type Kind int

const (
	// KindStructural is a malformed code-signing structure. Nothing was written.
	KindStructural Kind = iota + 1
	// KindAuthenticity is a stored digest that does not match the entitlements. Nothing was written.
	KindAuthenticity
	// KindCapacity is a rendered document that does not fit the blob. Nothing was written.
	KindCapacity
	// KindPayload is a rendered document that failed to parse as a plist. Nothing was written.
	KindPayload
	// KindKernelIO is a failed kernel primitive. Earlier writes may already be committed.
	KindKernelIO
	// KindVerification is a failed entitlements query after the write committed.
	KindVerification
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindAuthenticity:
		return "authenticity"
	case KindCapacity:
		return "capacity"
	case KindPayload:
		return "payload"
	case KindKernelIO:
		return "kernel i/o"
	case KindVerification:
		return "verification"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrBadMagic        = errors.New("bad magic")
	ErrBadLength       = errors.New("bad length")
	ErrOutOfRegion     = errors.New("pointer outside backing region")
	ErrUnsupportedHash = errors.New("unsupported hash size")
	ErrDigestMismatch  = errors.New("bad SHA2")
	ErrTooLong         = errors.New("too long")
	ErrMalformed       = errors.New("malformed plist")
	ErrBadBlob         = errors.New("bad blob")
)

// Error is returned by every Patcher operation.
type Error struct {
	Kind Kind
	// Status is the entitlements query result for KindVerification.
	Status int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Status maps an operation result to the integer status the command reports:
// 0 on success, the query's own status for verification failures and -1 for
// everything else.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindVerification && e.Status != 0 {
		return e.Status
	}
	return -1
}

// IsLocal reports whether err was raised before any kernel write.
func IsLocal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindStructural, KindAuthenticity, KindCapacity, KindPayload:
		return true
	}
	return false
}
