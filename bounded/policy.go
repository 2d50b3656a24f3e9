package bounded

import (
	"hash/maphash"
	"sync/atomic"

	wasmguard "github.com/wippyai/wasm-guard"
)

const (
	// DefaultWindow is the sampling window: the counter wraps modulo this
	// many operations.
	DefaultWindow = 256
	// DefaultImportance checks half the window under sampling.
	DefaultImportance = 128
	// ImportanceCritical forces every sampled operation to be checked.
	ImportanceCritical = 255
)

// policy is the verification strategy attached to a container at
// construction. One policy value per container; shared conditional logic
// lives here rather than scattered through the containers.
type policy struct {
	level      wasmguard.VerificationLevel
	window     uint32
	importance uint8
	counter    atomic.Uint32
	seed       maphash.Seed
}

func newPolicy(opts []Option) *policy {
	p := &policy{
		level:      wasmguard.VerifyStandard,
		window:     DefaultWindow,
		importance: DefaultImportance,
		seed:       maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.window == 0 {
		p.window = DefaultWindow
	}
	return p
}

// Option configures a container's verification policy.
type Option func(*policy)

// WithLevel sets the verification level. The default is VerifyStandard.
func WithLevel(level wasmguard.VerificationLevel) Option {
	return func(p *policy) { p.level = level }
}

// WithTier sets the verification level to the tier's default.
func WithTier(tier wasmguard.IntegrityTier) Option {
	return func(p *policy) { p.level = tier.Policy().DefaultLevel }
}

// WithWindow sets the sampling window. Only meaningful at VerifySampling.
func WithWindow(window uint32) Option {
	return func(p *policy) { p.window = window }
}

// WithImportance sets the container's importance for sampled checks.
// Critical containers pass ImportanceCritical to force every check.
func WithImportance(importance uint8) Option {
	return func(p *policy) { p.importance = importance }
}

// checkBounds reports whether this operation's bounds should be verified.
func (p *policy) checkBounds() bool {
	switch p.level {
	case wasmguard.VerifyNone:
		return false
	case wasmguard.VerifySampling:
		// importance 255 must always check; with the default window of
		// 256 the modulo comparison alone would skip one op per window.
		if p.importance == ImportanceCritical {
			return true
		}
		n := p.counter.Add(1) - 1
		return n%p.window < uint32(p.importance)
	default:
		return true
	}
}

// trackChecksum reports whether the container maintains a running element
// checksum. Anything above VerifyNone tracks, so a later Validate has
// something to compare against.
func (p *policy) trackChecksum() bool {
	return p.level != wasmguard.VerifyNone
}

// verifyChecksum reports whether Validate compares checksums.
func (p *policy) verifyChecksum() bool {
	return p.level >= wasmguard.VerifyStandard
}

// autoValidate reports whether mutations re-validate the whole container.
func (p *policy) autoValidate() bool {
	return p.level == wasmguard.VerifyFull
}
