package budget

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
)

// Config is the on-disk budget table supplied by build tooling.
//
//	tier: B
//	total_ceiling: 8388608
//	subsystems:
//	  - name: decoder
//	    max_bytes: 524288
type Config struct {
	Tier         string            `yaml:"tier" validate:"required"`
	TotalCeiling uint64            `yaml:"total_ceiling" validate:"required,gt=0"`
	Subsystems   []SubsystemConfig `yaml:"subsystems" validate:"required,min=1,dive"`
}

// SubsystemConfig is one (name, byte_count) pair of the budget table.
type SubsystemConfig struct {
	Name     string `yaml:"name" validate:"required"`
	MaxBytes uint64 `yaml:"max_bytes" validate:"required,gte=4096,lte=268435456"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseConfig decodes and validates a YAML budget table. Subsystem names
// must resolve to known IDs, every budget must fall in the documented
// range, and the sum must not exceed the configured ceiling (which itself
// is capped by MaxTotalBudget).
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.InvalidConfig("decode budget table", err)
	}
	if err := configValidator.Struct(&cfg); err != nil {
		return nil, errors.InvalidConfig("validate budget table", err)
	}
	if _, ok := wasmguard.ParseTier(cfg.Tier); !ok {
		return nil, errors.InvalidConfig("unknown tier "+cfg.Tier, nil)
	}
	if cfg.TotalCeiling > MaxTotalBudget {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
			Detail("ceiling %d exceeds global maximum %d", cfg.TotalCeiling, MaxTotalBudget).
			Build()
	}

	var total uint64
	seen := map[string]bool{}
	for _, s := range cfg.Subsystems {
		if _, ok := wasmguard.ParseSubsystem(s.Name); !ok {
			return nil, errors.UnknownSubsystem(errors.PhaseConfig, s.Name)
		}
		if seen[s.Name] {
			return nil, errors.DuplicateRegistration(s.Name)
		}
		seen[s.Name] = true
		total += s.MaxBytes
	}
	if total > cfg.TotalCeiling {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
			Detail("budgets sum to %d, ceiling is %d", total, cfg.TotalCeiling).
			Build()
	}
	return &cfg, nil
}

// IntegrityTier returns the tier named by the config.
func (c *Config) IntegrityTier() wasmguard.IntegrityTier {
	tier, _ := wasmguard.ParseTier(c.Tier)
	return tier
}

// Registry converts the config into a static budget table.
func (c *Config) Registry() Registry {
	r := make(Registry, 0, len(c.Subsystems))
	for _, s := range c.Subsystems {
		id, _ := wasmguard.ParseSubsystem(s.Name)
		r = append(r, Budget{Subsystem: id, MaxBytes: s.MaxBytes})
	}
	return r
}

// LoadFile reads a budget table from disk and builds a registered context
// for the tier it names. Tiers whose policy requires sealing are sealed
// before the context is returned, so callers at those tiers must register
// everything through the file.
func LoadFile(path string, opts ...Option) (*Context, *Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.InvalidConfig("read budget table", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, nil, err
	}

	ctx := NewContext(cfg.IntegrityTier(), opts...)
	if err := cfg.Registry().Apply(ctx); err != nil {
		return nil, nil, err
	}
	if ctx.Tier().Policy().SealRequired {
		ctx.Seal()
	}
	return ctx, cfg, nil
}
