package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MachineMap-App/internal/domain/model"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, BackendSupabase, cfg.GeodataBackend)
	assert.Equal(t, model.DefaultTileTTL, cfg.Map.TileTTL)
	assert.Equal(t, model.DefaultThrottleWindow, cfg.Map.ThrottleWindow)
	assert.Equal(t, model.DefaultDebounceWindow, cfg.Map.DebounceWindow)
	assert.Equal(t, model.DefaultBufferRatio, cfg.Map.BufferRatio)
	assert.Equal(t, model.DefaultResultCap, cfg.Map.ResultCap)
	assert.Equal(t, model.DefaultMaxTiles, cfg.Map.MaxTiles)
	assert.Equal(t, model.DefaultMaxTilesPerRefresh, cfg.Map.MaxTilesPerRefresh)
}

func TestParse_MapPrefix(t *testing.T) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{
		"GEODATA_BACKEND":      "firestore",
		"FIRESTORE_PROJECT_ID": "machine-map",
		"LOG_LEVEL":            "DEBUG",
		"MAP_TILE_TTL":         "2m",
		"MAP_DEBOUNCE_WINDOW":  "750ms",
		"MAP_RESULT_CAP":       "1000",
	}})
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Map.TileTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.Map.DebounceWindow)
	assert.Equal(t, 1000, cfg.Map.ResultCap)
	assert.NoError(t, cfg.Validate())

	cacheOpts := cfg.Map.TileCacheOptions()
	assert.Equal(t, 2*time.Minute, cacheOpts.TTL)
	assert.Equal(t, 1000, cacheOpts.ResultCap)
	coordOpts := cfg.Map.CoordinatorOptions()
	assert.Equal(t, 750*time.Millisecond, coordOpts.DebounceWindow)
	assert.Equal(t, model.SignificantOverflowRatio, coordOpts.SignificantRatio)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{
			"SUPABASE_URL":      "https://example.supabase.co",
			"SUPABASE_ANON_KEY": "anon",
		}})
		require.NoError(t, err)
		return cfg
	}

	t.Run("supabase の設定が揃っていれば成功", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("postgres はDBパスワードが必要", func(t *testing.T) {
		cfg := valid()
		cfg.GeodataBackend = BackendPostgres
		assert.ErrorContains(t, cfg.Validate(), "SUPABASE_DB_PASSWORD")
	})

	t.Run("未知のバックエンドはエラー", func(t *testing.T) {
		cfg := valid()
		cfg.GeodataBackend = "redis"
		assert.ErrorContains(t, cfg.Validate(), "GEODATA_BACKEND")
	})

	t.Run("負のバッファ率はエラー", func(t *testing.T) {
		cfg := valid()
		cfg.Map.BufferRatio = -0.1
		assert.ErrorContains(t, cfg.Validate(), "MAP_BUFFER_RATIO")
	})

	t.Run("複数のエラーをまとめて返す", func(t *testing.T) {
		cfg := valid()
		cfg.SupabaseAnonKey = ""
		cfg.LogFormat = "xml"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "SUPABASE_ANON_KEY")
		assert.ErrorContains(t, err, "LOG_FORMAT")
	})
}
