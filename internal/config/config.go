// Package config loads the engine's YAML configuration (spec §6.2):
// the Players/NPCS/BackStories/Screens/Actions entity sections, the
// common option bag merged into every entity, and the engine section
// itself (grace/turn/game time caps, temporary directory, extras paths).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/gmengine/internal/gmerrors"
)

// OptionBag is one entity's raw, as-yet-unvalidated configuration.
type OptionBag map[string]interface{}

// EngineConfig is the §6.2 `engine` section.
type EngineConfig struct {
	GraceTime   int      `yaml:"graceTime"`
	MaxGameTime int      `yaml:"maxGameTime"`
	MaxTurnTime int      `yaml:"maxTurnTime"`
	Temporary   string   `yaml:"temporary"`
	ExtrasPaths []string `yaml:"extrasPaths"`
}

// GraceDuration returns GraceTime as a time.Duration, matching the unit
// the gamemaster.Config field expects.
func (e EngineConfig) GraceDuration() time.Duration {
	return time.Duration(e.GraceTime) * time.Second
}

// MaxGameDuration returns MaxGameTime as a time.Duration; zero means
// unlimited.
func (e EngineConfig) MaxGameDuration() time.Duration {
	return time.Duration(e.MaxGameTime) * time.Second
}

// MaxTurnDuration returns MaxTurnTime as a time.Duration; zero means
// unlimited.
func (e EngineConfig) MaxTurnDuration() time.Duration {
	return time.Duration(e.MaxTurnTime) * time.Second
}

// LoggingConfig is the ambient logging knob SPEC_FULL.md adds alongside
// the §6.2 entity sections: debug_mode gates whether internal/logging
// touches disk at all, categories toggles individual subsystems.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"jsonFormat"`
}

// Config is the full §6.2 configuration surface.
type Config struct {
	Players     map[string]OptionBag `yaml:"players"`
	NPCS        map[string]OptionBag `yaml:"npcs"`
	BackStories map[string]OptionBag `yaml:"backstories"`
	Screens     map[string]OptionBag `yaml:"screens"`
	Actions     map[string]OptionBag `yaml:"actions"`
	Common      OptionBag            `yaml:"common"`
	Engine      EngineConfig         `yaml:"engine"`
	Logging     LoggingConfig        `yaml:"logging"`
}

// DefaultConfig returns the configuration the engine runs with absent a
// file on disk (spec §6.2 defaults: graceTime=1, the two time caps
// unlimited).
func DefaultConfig() *Config {
	return &Config{
		Players:     make(map[string]OptionBag),
		NPCS:        make(map[string]OptionBag),
		BackStories: make(map[string]OptionBag),
		Screens:     make(map[string]OptionBag),
		Actions:     make(map[string]OptionBag),
		Common:      make(OptionBag),
		Engine: EngineConfig{
			GraceTime:   1,
			MaxGameTime: 0,
			MaxTurnTime: 0,
			Temporary:   "",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML configuration file, falling back to DefaultConfig
// when path does not exist. Environment overrides are applied either
// way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets a few ambient knobs be set without touching the
// file on disk, matching the teacher's env-override convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GMENGINE_TEMPORARY"); v != "" {
		c.Engine.Temporary = v
	}
	if v := os.Getenv("GMENGINE_GRACE_TIME"); v != "" {
		if seconds, err := time.ParseDuration(v + "s"); err == nil {
			c.Engine.GraceTime = int(seconds.Seconds())
		}
	}
	if v := os.Getenv("GMENGINE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks the parts of the configuration the engine itself
// depends on; per-analyzer option-bag schema validation (spec §6.2)
// happens at load time in the registry/loader, since only it knows each
// kind's declared OptionSchema.
func (c *Config) Validate() error {
	if c.Engine.GraceTime < 0 {
		return &gmerrors.FatalError{Reason: "engine.graceTime must be >= 0"}
	}
	if c.Engine.MaxGameTime < 0 {
		return &gmerrors.FatalError{Reason: "engine.maxGameTime must be >= 0"}
	}
	if c.Engine.MaxTurnTime < 0 {
		return &gmerrors.FatalError{Reason: "engine.maxTurnTime must be >= 0"}
	}
	return nil
}

// GameMasterConfig converts the engine section into the shape
// gamemaster.Config expects; kept here rather than in gamemaster itself
// so that package does not need to import config.
func (e EngineConfig) GameMasterConfig() (graceTime, maxGameTime, maxTurnTime time.Duration, temporaryBase string) {
	return e.GraceDuration(), e.MaxGameDuration(), e.MaxTurnDuration(), e.Temporary
}

// Merged returns an entity's option bag with Common merged in under the
// "common" key (spec §6.2), without mutating the stored bag.
func Merged(bag OptionBag, common OptionBag) map[string]interface{} {
	out := make(map[string]interface{}, len(bag)+1)
	for k, v := range bag {
		out[k] = v
	}
	out["common"] = common
	return out
}
