// Package csblob forges the entitlements the kernel reports for a process by
// rewriting the in-kernel code-signing blob attached to its executable.
//
// The caller supplies kernel read/write/alloc primitives and the kernel
// address of the target proc. A patch runs locate, read, validate, rewrite,
// re-digest, publish and refresh, strictly in that order. Every check that
// can fail without side effects runs before the first kernel write; failures
// after that point are reported but never rolled back.
package csblob

import (
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/ant4g0nist/voucher-swap/pkg/csops"
	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
	"github.com/ant4g0nist/voucher-swap/pkg/kmem"
)

// EchoFunc receives entitlements payloads in verbose mode. label is
// "blob[<len>]" before mutation and "blob" after the refresh.
type EchoFunc func(label string, payload []byte)

// Config wires a Patcher to its collaborators.
type Config struct {
	Kernel kmem.Kernel
	Layout *offsets.Layout
	// Strategy overrides the layout's default ("copy" or "direct").
	Strategy string
	Monitor  Monitor
	Querier  csops.Querier
	// PID is the process whose entitlements are queried after the patch.
	// Defaults to the calling process.
	PID int
	// Check parses the rendered document before any kernel write.
	Check   bool
	Verbose bool
	Echo    EchoFunc
}

// Patcher rewrites a process's in-kernel entitlements.
type Patcher struct {
	conf     *Config
	strategy Strategy
}

// Result describes a committed patch.
type Result struct {
	Record   kmem.Addr
	Strategy string
	// Entitlements is the blob as returned by the entitlements query.
	Entitlements []byte
	Digest       [32]byte
	// Region is the backing region the record points at afterwards.
	Region Region
}

// Inspection is a validated, read-only view of a signature.
type Inspection struct {
	Snapshot *Snapshot
	Strategy string
}

func New(conf *Config) (*Patcher, error) {
	if conf.Kernel == nil {
		return nil, fmt.Errorf("csblob: no kernel access configured")
	}
	if conf.Layout == nil {
		return nil, fmt.Errorf("csblob: no offset layout configured")
	}
	if conf.Monitor == nil {
		conf.Monitor = NopMonitor{}
	}
	if conf.Querier == nil {
		conf.Querier = csops.System{}
	}
	if conf.PID == 0 {
		conf.PID = os.Getpid()
	}
	if conf.Echo == nil {
		conf.Echo = func(label string, payload []byte) {
			log.Infof("%s: {%s}", label, cstring(payload))
		}
	}
	s, err := StrategyByName(conf.Strategy, conf.Kernel, conf.Layout, conf.Monitor)
	if err != nil {
		return nil, err
	}
	return &Patcher{conf: conf, strategy: s}, nil
}

// Strategy returns the name of the strategy in use.
func (p *Patcher) Strategy() string { return p.strategy.Name() }

func (p *Patcher) load(proc kmem.Addr) (*Snapshot, error) {
	record, err := Locate(p.conf.Kernel, p.conf.Layout, proc)
	if err != nil {
		return nil, err
	}
	s, err := p.strategy.Read(record)
	if err != nil {
		return nil, err
	}
	if p.conf.Verbose {
		p.conf.Echo(fmt.Sprintf("blob[%d]", s.Length()), s.Payload())
	}
	if err := Verify(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Inspect locates, reads and validates the signature of proc without
// writing anything.
func (p *Patcher) Inspect(proc kmem.Addr) (*Inspection, error) {
	s, err := p.load(proc)
	if err != nil {
		return nil, err
	}
	return &Inspection{Snapshot: s, Strategy: p.strategy.Name()}, nil
}

// Entitle replaces the entitlements of proc with fragment wrapped in a plist
// dictionary. The fragment is inserted verbatim.
func (p *Patcher) Entitle(proc kmem.Addr, fragment string) (*Result, error) {
	s, err := p.load(proc)
	if err != nil {
		return nil, err
	}

	doc := RenderEntitlements(fragment)
	if p.conf.Check {
		if err := CheckDocument(doc); err != nil {
			return nil, err
		}
	}
	if err := RewritePayload(s.Entitlements, doc); err != nil {
		return nil, err
	}
	digest := UpdateDigest(s)

	if err := p.strategy.Commit(s); err != nil {
		return nil, err
	}

	res := &Result{
		Record:       s.Record,
		Strategy:     p.strategy.Name(),
		Entitlements: s.Entitlements,
		Digest:       digest,
	}
	if s.Blob != nil {
		res.Region = s.Blob.Region
	}

	if err := p.refresh(s); err != nil {
		return res, err
	}
	return res, nil
}

// refresh asks the OS for the live entitlements. The query writes into the
// snapshot's blob buffer.
func (p *Patcher) refresh(s *Snapshot) error {
	status, err := p.conf.Querier.EntitlementsBlob(p.conf.PID, s.Entitlements)
	if status != 0 || err != nil {
		if err == nil {
			err = ErrBadBlob
		}
		if status == 0 {
			status = -1
		}
		return &Error{Kind: KindVerification, Status: status, Err: err}
	}
	if p.conf.Verbose {
		p.conf.Echo("blob", s.Payload())
	}
	return nil
}

// cstring trims payload at its first NUL.
func cstring(payload []byte) []byte {
	for i, b := range payload {
		if b == 0 {
			return payload[:i]
		}
	}
	return payload
}

// Text returns the payload up to the document terminator.
func Text(payload []byte) string { return string(cstring(payload)) }
