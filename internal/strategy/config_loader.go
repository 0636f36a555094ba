package strategy

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is one strategy entry in the YAML file.
type Config struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Symbols  []string `yaml:"symbols"`
	IsActive bool     `yaml:"is_active"`

	// momentum, ma_cross
	Size      decimal.Decimal `yaml:"size"`
	Threshold decimal.Decimal `yaml:"threshold"`
	Fast      int             `yaml:"fast"`
	Slow      int             `yaml:"slow"`

	// copy_trade
	Weights map[string]decimal.Decimal `yaml:"weights"`

	// stop_loss
	DropFraction decimal.Decimal `yaml:"drop_fraction"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy definitions from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Strategies, nil
}

// Build constructs the strategy described by cfg. Inactive entries return
// (nil, nil) so callers can skip them without special-casing.
func Build(cfg Config) (Strategy, error) {
	if !cfg.IsActive {
		return nil, nil
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("strategy config missing id")
	}

	switch cfg.Type {
	case "momentum":
		if len(cfg.Symbols) != 1 {
			return nil, fmt.Errorf("momentum strategy %s requires exactly one symbol", cfg.ID)
		}
		if !cfg.Size.IsPositive() {
			return nil, fmt.Errorf("momentum strategy %s requires a positive size", cfg.ID)
		}
		return NewMomentum(cfg.ID, cfg.Symbols[0], cfg.Size, cfg.Threshold), nil

	case "ma_cross":
		if len(cfg.Symbols) != 1 {
			return nil, fmt.Errorf("ma_cross strategy %s requires exactly one symbol", cfg.ID)
		}
		if cfg.Fast > 0 && cfg.Slow > 0 && cfg.Fast >= cfg.Slow {
			return nil, fmt.Errorf("ma_cross strategy %s requires fast < slow", cfg.ID)
		}
		return NewMACross(cfg.ID, cfg.Symbols[0], cfg.Size, cfg.Fast, cfg.Slow), nil

	case "copy_trade":
		if len(cfg.Weights) == 0 {
			return nil, fmt.Errorf("copy_trade strategy %s requires trader weights", cfg.ID)
		}
		return NewCopyTrade(cfg.ID, cfg.Weights), nil

	case "stop_loss":
		if !cfg.DropFraction.IsPositive() {
			return nil, fmt.Errorf("stop_loss strategy %s requires a positive drop_fraction", cfg.ID)
		}
		return NewStopLoss(cfg.ID, cfg.DropFraction), nil

	default:
		return nil, fmt.Errorf("unknown strategy type %q for %s", cfg.Type, cfg.ID)
	}
}
