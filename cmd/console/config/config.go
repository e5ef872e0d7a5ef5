package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FeeTier is a preset pool configuration selectable from the console.
type FeeTier struct {
	Name string `yaml:"name"`
	// Fee is a fraction of 2^64 charged on swap input and withdrawn principal.
	Fee         uint64 `yaml:"fee"`
	TickSpacing uint32 `yaml:"tick_spacing"`
}

// ConsoleConfig configures the interactive engine console.
type ConsoleConfig struct {
	LogFile  string    `yaml:"log_file"`
	FeeTiers []FeeTier `yaml:"fee_tiers"`
	// MintAmount is credited to the demo account for every token it touches.
	MintAmount string `yaml:"mint_amount"`
}

// LoadConfig reads and validates a yaml config file.
func LoadConfig(path string) (*ConsoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for i, tier := range cfg.FeeTiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("fee tier %d: name is required", i)
		}
	}
	return cfg, nil
}

func defaultConfig() *ConsoleConfig {
	return &ConsoleConfig{
		LogFile:    "engine.log",
		MintAmount: "1000000000",
		FeeTiers: []FeeTier{
			{Name: "stable", Fee: 184467440737095516, TickSpacing: 10},     // ~1%
			{Name: "standard", Fee: 922337203685477580, TickSpacing: 200},  // ~5%
			{Name: "volatile", Fee: 1844674407370955161, TickSpacing: 400}, // ~10%
		},
	}
}
