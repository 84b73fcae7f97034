// Package config loads process settings from the environment, optionally
// layered over a KEY=value file.
package config

import (
	"os"
	"strings"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/world"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds every tunable of a worldsim process.
type Config struct {
	InstanceID     string `config:"GAME_INSTANCE_ID"`
	TickIntervalMS int    `config:"TICK_INTERVAL_MS"`

	WorldWidth  int    `config:"WORLD_WIDTH"`
	WorldHeight int    `config:"WORLD_HEIGHT"`
	OriginQ     int    `config:"WORLD_ORIGIN_Q"`
	OriginR     int    `config:"WORLD_ORIGIN_R"`
	WorldSeed   int64  `config:"WORLD_SEED"`
	BiomeRule   string `config:"BIOME_RULE"`
	// BiomeTemplatesPath names a JSON template file; empty uses the built-in templates.
	BiomeTemplatesPath string `config:"BIOME_TEMPLATES_PATH"`

	StoreBackend  string `config:"STORE_BACKEND"`
	DBPath        string `config:"DB_PATH"`
	RedisAddress  string `config:"REDIS_ADDRESS"`
	RedisPassword string `config:"REDIS_PASSWORD"`
	AuditDir      string `config:"AUDIT_DIR"`

	APIPort  int    `config:"API_PORT"`
	AdminKey string `config:"WORLDSIM_ADMIN_KEY"`

	MaxJobAttempts int `config:"MAX_JOB_ATTEMPTS"`
	ClaimTicks     int `config:"CLAIM_TICKS"`
	SaveEveryTicks int `config:"SAVE_EVERY_TICKS"`
}

// Default returns the settings used when nothing is overridden.
func Default() Config {
	return Config{
		InstanceID:     "default",
		TickIntervalMS: 30000,
		WorldWidth:     100,
		WorldHeight:    100,
		WorldSeed:      42,
		BiomeRule:      "quadrant",
		StoreBackend:   BackendSQLite,
		DBPath:         "data/cli-mmo.db",
		RedisAddress:   "localhost:6379",
		AuditDir:       "data/audit",
		APIPort:        8080,
		MaxJobAttempts: 5,
		ClaimTicks:     3,
		SaveEveryTicks: 60,
	}
}

// Load reads the environment over the defaults. When CONFIG_FILE is set, that
// file is read first and the environment overrides it.
func Load() (Config, error) {
	cfg := Default()
	var b *jlconfig.Builder
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, eris.Wrapf(world.ErrConfiguration, "config file %s: %v", path, err)
		}
		b = jlconfig.From(path).FromEnv()
	} else {
		b = jlconfig.FromEnv()
	}
	if err := b.To(&cfg); err != nil {
		return cfg, eris.Wrapf(world.ErrConfiguration, "load config: %v", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the process cannot run with.
func (c Config) Validate() error {
	switch {
	case c.InstanceID == "":
		return eris.Wrap(world.ErrConfiguration, "GAME_INSTANCE_ID is empty")
	case c.TickIntervalMS <= 0:
		return eris.Wrapf(world.ErrConfiguration, "TICK_INTERVAL_MS %d must be positive", c.TickIntervalMS)
	case c.WorldWidth <= 0 || c.WorldHeight <= 0:
		return eris.Wrapf(world.ErrConfiguration, "world size %dx%d must be positive", c.WorldWidth, c.WorldHeight)
	case c.APIPort <= 0 || c.APIPort > 65535:
		return eris.Wrapf(world.ErrConfiguration, "API_PORT %d out of range", c.APIPort)
	case c.MaxJobAttempts <= 0 || c.ClaimTicks <= 0 || c.SaveEveryTicks <= 0:
		return eris.Wrap(world.ErrConfiguration, "MAX_JOB_ATTEMPTS, CLAIM_TICKS and SAVE_EVERY_TICKS must be positive")
	}
	switch c.StoreBackend {
	case BackendSQLite, BackendRedis:
	default:
		return eris.Wrapf(world.ErrConfiguration, "unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if _, err := c.Rule(); err != nil {
		return err
	}
	return nil
}

// TickInterval returns the scheduler cadence.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Rule parses BIOME_RULE: "quadrant", "noise" or "uniform:<biome>".
func (c Config) Rule() (world.BiomeRule, error) {
	name, arg, _ := strings.Cut(c.BiomeRule, ":")
	switch name {
	case "", "quadrant":
		return world.QuadrantRule{}, nil
	case "noise":
		return world.NewNoiseRule(c.WorldSeed), nil
	case "uniform":
		if arg == "" {
			return nil, eris.Wrap(world.ErrConfiguration, "uniform biome rule needs a biome, e.g. uniform:plains")
		}
		return world.UniformRule{Biome: world.BiomeType(arg)}, nil
	}
	return nil, eris.Wrapf(world.ErrConfiguration, "unknown BIOME_RULE %q", c.BiomeRule)
}

// GenConfig converts the world settings into generation parameters.
func (c Config) GenConfig() (world.GenConfig, error) {
	rule, err := c.Rule()
	if err != nil {
		return world.GenConfig{}, err
	}
	return world.GenConfig{
		Width:  c.WorldWidth,
		Height: c.WorldHeight,
		Origin: world.HexCoord{Q: c.OriginQ, R: c.OriginR},
		Seed:   c.WorldSeed,
		Rule:   rule,
	}, nil
}

// Templates returns the biome template source the settings select.
func (c Config) Templates() world.TemplateSource {
	if c.BiomeTemplatesPath != "" {
		return world.FileSource(c.BiomeTemplatesPath)
	}
	return world.DefaultTemplates()
}
