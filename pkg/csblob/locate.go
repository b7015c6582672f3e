package csblob

import (
	"github.com/apex/log"

	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// Locate walks proc->p_textvp->v_ubcinfo->cs_blobs and returns the kernel
// address of the process's first signature blob record.
func Locate(r kmem.Reader, l *offsets.Layout, proc kmem.Addr) (kmem.Addr, error) {
	vnode, err := kmem.ReadPtr(r, proc.Add(l.Proc.TextVnode))
	if err != nil {
		return 0, &Error{Kind: KindKernelIO, Err: err}
	}
	ubc, err := kmem.ReadPtr(r, vnode.Add(l.Vnode.UbcInfo))
	if err != nil {
		return 0, &Error{Kind: KindKernelIO, Err: err}
	}
	blobs, err := kmem.ReadPtr(r, ubc.Add(l.UbcInfo.CSBlobs))
	if err != nil {
		return 0, &Error{Kind: KindKernelIO, Err: err}
	}
	log.WithFields(log.Fields{
		"proc":    proc,
		"vnode":   vnode,
		"ubcinfo": ubc,
		"csblob":  blobs,
	}).Debug("Located code signature blob")
	if blobs == 0 {
		return 0, newError(KindStructural, "%w: process has no code signature blobs", ErrBadBlob)
	}
	return blobs, nil
}
