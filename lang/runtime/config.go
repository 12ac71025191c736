// Package runtime holds the VM's externally tunable limits and the
// three-outcome result type shared by the compiler, the VM, and the CLI
// driver.
package runtime

import "github.com/caarlos0/env/v6"

// Config holds the VM's tunable implementation limits. Defaults match the
// reference clox constants; each is overridable by environment variable so
// an embedding service can tune a long-running interpreter without a
// recompile.
type Config struct {
	GCInitialThreshold int     `env:"LUMEN_GC_INITIAL_BYTES" envDefault:"1048576"`
	GCGrowthFactor     float64 `env:"LUMEN_GC_GROWTH_FACTOR" envDefault:"2.0"`
	FrameMax           int     `env:"LUMEN_FRAME_MAX" envDefault:"64"`
	StackSlotsPerFrame int     `env:"LUMEN_FRAME_STACK_SLOTS" envDefault:"256"`
	// StepBudget bounds the number of dispatched instructions per Interpret
	// call; 0 disables the bound. It exists to let an embedder cap a runaway
	// script rather than block forever.
	StepBudget int `env:"LUMEN_STEP_BUDGET" envDefault:"0"`
}

// StackMax is the maximum value-stack depth for c: FrameMax frames, each
// with StackSlotsPerFrame local slots.
func (c Config) StackMax() int { return c.FrameMax * c.StackSlotsPerFrame }

// Load reads a Config from the environment, applying the documented
// defaults for anything unset.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the Config produced by Load with no environment overrides
// present; it never fails since every field has an envDefault.
func Default() Config {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}
