package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/cli-mmo/internal/world"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Second, cfg.TickInterval())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GAME_INSTANCE_ID", "alpha")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("WORLD_WIDTH", "12")
	t.Setenv("WORLD_ORIGIN_Q", "-6")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("BIOME_RULE", "uniform:forest")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.InstanceID)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 12, cfg.WorldWidth)
	assert.Equal(t, 100, cfg.WorldHeight)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)

	gen, err := cfg.GenConfig()
	require.NoError(t, err)
	assert.Equal(t, world.HexCoord{Q: -6}, gen.Origin)
	assert.Equal(t, world.BiomeForest, gen.Rule.BiomeAt(world.HexCoord{Q: 3, R: -1}))
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldsim.env")
	require.NoError(t, os.WriteFile(path, []byte("GAME_INSTANCE_ID=from-file\nCLAIM_TICKS=7\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CLAIM_TICKS", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.InstanceID)
	assert.Equal(t, 9, cfg.ClaimTicks)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.env"))
	_, err := Load()
	assert.True(t, eris.Is(err, world.ErrConfiguration))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty instance":  func(c *Config) { c.InstanceID = "" },
		"zero interval":   func(c *Config) { c.TickIntervalMS = 0 },
		"negative width":  func(c *Config) { c.WorldWidth = -1 },
		"bad port":        func(c *Config) { c.APIPort = 70000 },
		"zero attempts":   func(c *Config) { c.MaxJobAttempts = 0 },
		"unknown backend": func(c *Config) { c.StoreBackend = "etcd" },
		"unknown rule":    func(c *Config) { c.BiomeRule = "voronoi" },
		"uniform no arg":  func(c *Config) { c.BiomeRule = "uniform:" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.True(t, eris.Is(cfg.Validate(), world.ErrConfiguration))
		})
	}
}

func TestRule(t *testing.T) {
	cfg := Default()
	r, err := cfg.Rule()
	require.NoError(t, err)
	assert.IsType(t, world.QuadrantRule{}, r)

	cfg.BiomeRule = "noise"
	r, err = cfg.Rule()
	require.NoError(t, err)
	assert.IsType(t, &world.NoiseRule{}, r)
}

func TestTemplates(t *testing.T) {
	cfg := Default()
	assert.IsType(t, world.StaticSource{}, cfg.Templates())
	cfg.BiomeTemplatesPath = "biomes.json"
	assert.Equal(t, world.FileSource("biomes.json"), cfg.Templates())
}
