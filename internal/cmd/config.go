package main

import (
	"fmt"
	"os"
	"time"

	"github.com/openmatka/engine/internal/round"
	"gopkg.in/yaml.v3"
)

// GameConfig is the operator-tunable game configuration, loaded from a
// YAML file at boot. Everything has a sensible default so the file is
// optional in development.
type GameConfig struct {
	Game struct {
		IntervalMinutes   int    `yaml:"interval_minutes"`
		TickMillis        int    `yaml:"tick_millis"`
		FinalCountdownSec int    `yaml:"final_countdown_sec"`
		StakeCutoffSec    int    `yaml:"stake_cutoff_sec"`
		OverrideCutoffSec int    `yaml:"override_cutoff_sec"`
		PayoutMultiplier  int64  `yaml:"payout_multiplier"`
		MaxBonus          int64  `yaml:"max_bonus"`
		Timezone          string `yaml:"timezone"`
	} `yaml:"game"`
	Admin struct {
		Token string `yaml:"token"`
	} `yaml:"admin"`
}

func loadGameConfig(path string) (*GameConfig, error) {
	var config GameConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// roundConfig merges the YAML values over the engine defaults.
func (c *GameConfig) roundConfig() (round.Config, error) {
	cfg := round.DefaultConfig()

	if c.Game.IntervalMinutes > 0 {
		cfg.Interval = time.Duration(c.Game.IntervalMinutes) * time.Minute
	}
	if c.Game.TickMillis > 0 {
		cfg.TickPeriod = time.Duration(c.Game.TickMillis) * time.Millisecond
	}
	if c.Game.FinalCountdownSec > 0 {
		cfg.FinalCountdownSec = c.Game.FinalCountdownSec
	}
	if c.Game.StakeCutoffSec > 0 {
		cfg.Gates.StakeCutoffSec = c.Game.StakeCutoffSec
	}
	if c.Game.OverrideCutoffSec > 0 {
		cfg.Gates.OverrideCutoffSec = c.Game.OverrideCutoffSec
	}
	if c.Game.MaxBonus > 0 {
		cfg.MaxBonus = c.Game.MaxBonus
	}
	if c.Game.Timezone != "" {
		loc, err := time.LoadLocation(c.Game.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("invalid timezone %q: %w", c.Game.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func (c *GameConfig) payoutMultiplier() int64 {
	return c.Game.PayoutMultiplier // NewEngine applies the default when zero
}

// adminToken resolves the override token: the ADMIN_TOKEN env var wins,
// then the config file.
func (c *GameConfig) adminToken() string {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		return v
	}
	return c.Admin.Token
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
