package wasmguard

import "strings"

// SubsystemID identifies the runtime subsystem making an allocation request.
// IDs are fixed at compile time; budgets are keyed by them.
type SubsystemID uint8

const (
	SubsystemFoundation SubsystemID = iota
	SubsystemDecoder
	SubsystemComponentModel
	SubsystemRuntimeCore
	SubsystemHostInterface
	SubsystemLogging
	SubsystemTelemetry
	SubsystemPlatform

	// NumSubsystems bounds the subsystem ID space. Budget tables are
	// sized by it.
	NumSubsystems = iota
)

var subsystemNames = [NumSubsystems]string{
	SubsystemFoundation:     "foundation",
	SubsystemDecoder:        "decoder",
	SubsystemComponentModel: "component-model",
	SubsystemRuntimeCore:    "runtime-core",
	SubsystemHostInterface:  "host-interface",
	SubsystemLogging:        "logging",
	SubsystemTelemetry:      "telemetry",
	SubsystemPlatform:       "platform",
}

func (s SubsystemID) String() string {
	if int(s) < len(subsystemNames) {
		return subsystemNames[s]
	}
	return "unknown"
}

// Valid reports whether the ID names a known subsystem.
func (s SubsystemID) Valid() bool {
	return int(s) < NumSubsystems
}

// ParseSubsystem resolves a configuration name to a SubsystemID.
func ParseSubsystem(name string) (SubsystemID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range subsystemNames {
		if n == name {
			return SubsystemID(i), true
		}
	}
	return 0, false
}

// IntegrityTier is the deployment safety-criticality level. Higher tiers
// impose stricter allocation and verification policy.
type IntegrityTier uint8

const (
	TierQM IntegrityTier = iota // quality managed, unrestricted dynamic
	TierA                       // bounded dynamic with monitoring
	TierB                       // bounded dynamic with monitoring
	TierC                       // static-only after initialization
	TierD                       // fully static
)

func (t IntegrityTier) String() string {
	switch t {
	case TierQM:
		return "QM"
	case TierA:
		return "ASIL-A"
	case TierB:
		return "ASIL-B"
	case TierC:
		return "ASIL-C"
	case TierD:
		return "ASIL-D"
	}
	return "unknown"
}

// ParseTier resolves a configuration name ("QM", "A".."D", "ASIL-B") to a tier.
func ParseTier(name string) (IntegrityTier, bool) {
	switch strings.ToUpper(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "ASIL-")) {
	case "QM":
		return TierQM, true
	case "A":
		return TierA, true
	case "B":
		return TierB, true
	case "C":
		return TierC, true
	case "D":
		return TierD, true
	}
	return 0, false
}

// TierPolicy captures what a tier permits at runtime.
type TierPolicy struct {
	// DynamicAfterSeal permits new capability-backed allocation after the
	// budget context is sealed.
	DynamicAfterSeal bool
	// DynamicAllocation permits capability-backed allocation at all.
	// Tier D is fully static.
	DynamicAllocation bool
	// AdjustableBudgets permits re-registration of budget limits before seal.
	AdjustableBudgets bool
	// SealRequired forces the context to seal once initialization finishes.
	SealRequired bool
	// DefaultLevel is the verification level containers default to.
	DefaultLevel VerificationLevel
}

// Policy returns the allocation policy fixed by the tier.
func (t IntegrityTier) Policy() TierPolicy {
	switch t {
	case TierQM:
		return TierPolicy{
			DynamicAfterSeal:  true,
			DynamicAllocation: true,
			AdjustableBudgets: true,
			DefaultLevel:      VerifyNone,
		}
	case TierA:
		return TierPolicy{
			DynamicAfterSeal:  true,
			DynamicAllocation: true,
			AdjustableBudgets: true,
			DefaultLevel:      VerifySampling,
		}
	case TierB:
		return TierPolicy{
			DynamicAfterSeal:  true,
			DynamicAllocation: true,
			AdjustableBudgets: true,
			DefaultLevel:      VerifyStandard,
		}
	case TierC:
		return TierPolicy{
			DynamicAllocation: true,
			SealRequired:      true,
			DefaultLevel:      VerifyStandard,
		}
	default: // TierD
		return TierPolicy{
			SealRequired: true,
			DefaultLevel: VerifyFull,
		}
	}
}

// VerificationLevel controls how much runtime checking a container performs
// per operation. It is a policy value attached at construction time.
type VerificationLevel uint8

const (
	// VerifyNone trusts indices and skips all checks. Reserved for call
	// sites proven correct by other means; must be justified per use site.
	VerifyNone VerificationLevel = iota
	// VerifySampling checks a statistically bounded fraction of operations,
	// weighted by per-call-site importance.
	VerifySampling
	// VerifyStandard bounds-checks every operation and maintains checksums.
	VerifyStandard
	// VerifyFull additionally re-validates structural invariants after
	// every mutating operation.
	VerifyFull
)

func (v VerificationLevel) String() string {
	switch v {
	case VerifyNone:
		return "none"
	case VerifySampling:
		return "sampling"
	case VerifyStandard:
		return "standard"
	case VerifyFull:
		return "full"
	}
	return "unknown"
}
