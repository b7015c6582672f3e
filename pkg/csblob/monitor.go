package csblob

import (
	"github.com/apex/log"

	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// Monitor tracks code-signature records on behalf of the page protection
// layer. A relocated record has to be unregistered under its old region and
// registered under the new one for the monitor to accept it.
type Monitor interface {
	Unregister(record kmem.Addr) error
	Register(record kmem.Addr, blob *BlobRecord) error
}

// NopMonitor performs no registration. Relocated records are published
// without the monitor knowing about them.
type NopMonitor struct{}

func (NopMonitor) Unregister(record kmem.Addr) error {
	log.WithField("record", record).Debug("Monitor unregister not implemented")
	return nil
}

func (NopMonitor) Register(record kmem.Addr, blob *BlobRecord) error {
	log.WithFields(log.Fields{
		"record": record,
		"base":   blob.Region.Base,
	}).Debug("Monitor register not implemented")
	return nil
}
