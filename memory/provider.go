package memory

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/budget"
	"github.com/wippyai/wasm-guard/errors"
)

// Kind distinguishes how a provider's region is backed.
type Kind uint8

const (
	// KindStatic regions are fixed at initialization and need no
	// capability. The only form permitted at tier D.
	KindStatic Kind = iota
	// KindCapability regions are charged against a subsystem budget.
	KindCapability
)

func (k Kind) String() string {
	if k == KindStatic {
		return "static"
	}
	return "capability"
}

// Provider is a fixed-size memory region. It is owned exclusively by the
// container built on it and released exactly once.
type Provider struct {
	mu   sync.RWMutex
	data []byte

	kind      Kind
	subsystem wasmguard.SubsystemID
	ctx       *budget.Context
	token     budget.Capability

	released atomic.Bool
}

// Static creates a statically backed provider of size bytes. It always
// succeeds and consumes no budget; use it for buffers whose size is fixed
// at initialization.
func Static(size uint64) *Provider {
	return &Provider{
		data: make([]byte, size),
		kind: KindStatic,
	}
}

// CapabilityBacked creates a provider of size bytes charged to the
// subsystem's budget. The capability returned by verification is owned by
// the provider and credited back on Release.
func CapabilityBacked(ctx *budget.Context, subsystem wasmguard.SubsystemID, size uint64) (*Provider, error) {
	token, err := ctx.VerifyAllocation(subsystem, size)
	if err != nil {
		return nil, err
	}
	return &Provider{
		data:      make([]byte, size),
		kind:      KindCapability,
		subsystem: subsystem,
		ctx:       ctx,
		token:     token,
	}, nil
}

// Kind returns how the region is backed.
func (p *Provider) Kind() Kind { return p.kind }

// Subsystem returns the charged subsystem; for static providers it is the
// zero subsystem and carries no meaning.
func (p *Provider) Subsystem() wasmguard.SubsystemID { return p.subsystem }

// Size returns the region size in bytes.
func (p *Provider) Size() uint64 { return uint64(len(p.data)) }

// Released reports whether the provider has been released.
func (p *Provider) Released() bool { return p.released.Load() }

// ReadAt copies len(dst) bytes starting at off into dst.
func (p *Provider) ReadAt(dst []byte, off uint64) error {
	if p.released.Load() {
		return errors.UseAfterFree(p.subsystem.String())
	}
	if off > uint64(len(p.data)) || uint64(len(dst)) > uint64(len(p.data))-off {
		return errors.BoundsViolation(off+uint64(len(dst)), uint64(len(p.data)))
	}
	p.mu.RLock()
	copy(dst, p.data[off:])
	p.mu.RUnlock()
	return nil
}

// WriteAt copies src into the region starting at off.
func (p *Provider) WriteAt(src []byte, off uint64) error {
	if p.released.Load() {
		return errors.UseAfterFree(p.subsystem.String())
	}
	if off > uint64(len(p.data)) || uint64(len(src)) > uint64(len(p.data))-off {
		return errors.BoundsViolation(off+uint64(len(src)), uint64(len(p.data)))
	}
	p.mu.Lock()
	copy(p.data[off:], src)
	p.mu.Unlock()
	return nil
}

// Checksum returns the xxhash of the whole region. Containers use it to
// detect corruption between validations.
func (p *Provider) Checksum() (uint64, error) {
	if p.released.Load() {
		return 0, errors.UseAfterFree(p.subsystem.String())
	}
	p.mu.RLock()
	sum := xxhash.Sum64(p.data)
	p.mu.RUnlock()
	return sum, nil
}

// Release returns the provider's budget. The first call wins; releasing
// again is reported as a double release and never credits the budget
// twice. Releasing a static provider only marks it unusable.
func (p *Provider) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return errors.DoubleRelease(p.subsystem.String())
	}
	if p.kind == KindCapability {
		return p.ctx.Release(p.token)
	}
	return nil
}
