// Package scheduler implements host selection for VM placement requests.
// It filters hosts by hard resource thresholds and ranks the survivors by
// a balance score.
package scheduler

// Placement strategies.
const (
	// StrategyPack prefers the lowest balance score: the most utilized host
	// that still fits the request.
	StrategyPack = "pack"
	// StrategySpread prefers the highest balance score: the least utilized host.
	StrategySpread = "spread"
)

// DefaultCPUPercentPerCore is the share of a host's available CPU percentage
// one requested core consumes.
const DefaultCPUPercentPerCore = 10.0

// Config holds the scheduler configuration.
type Config struct {
	// PlacementStrategy determines which end of the balance score wins.
	// - "pack": lowest score first
	// - "spread": highest score first
	PlacementStrategy string `mapstructure:"placement_strategy"`

	// CPUPercentPerCore converts requested cores into a required CPU availability percentage.
	CPUPercentPerCore float64 `mapstructure:"cpu_percent_per_core"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PlacementStrategy: StrategyPack,
		CPUPercentPerCore: DefaultCPUPercentPerCore,
	}
}

func (c Config) withDefaults() Config {
	if c.PlacementStrategy != StrategySpread {
		c.PlacementStrategy = StrategyPack
	}
	if c.CPUPercentPerCore <= 0 {
		c.CPUPercentPerCore = DefaultCPUPercentPerCore
	}
	return c
}
