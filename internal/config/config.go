package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"MachineMap-App/internal/domain/service"
)

// ジオデータのバックエンド
const (
	BackendSupabase  = "supabase"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	SessionIdleTTL  time.Duration `env:"SESSION_IDLE_TTL" envDefault:"15m"`

	GeodataBackend     string `env:"GEODATA_BACKEND" envDefault:"supabase"`
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseDBPassword string `env:"SUPABASE_DB_PASSWORD"`
	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`
	GoogleCredentials  string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	Map MapConfig `envPrefix:"MAP_"`
}

// MapConfig タイルキャッシュとスケジューラの調整値
type MapConfig struct {
	TileTTL            time.Duration `env:"TILE_TTL" envDefault:"5m"`
	ThrottleWindow     time.Duration `env:"THROTTLE_WINDOW" envDefault:"300ms"`
	DebounceWindow     time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"500ms"`
	BufferRatio        float64       `env:"BUFFER_RATIO" envDefault:"0.2"`
	ResultCap          int           `env:"RESULT_CAP" envDefault:"500"`
	MaxTiles           int           `env:"MAX_TILES" envDefault:"50000"`
	MaxTilesPerRefresh int           `env:"MAX_TILES_PER_REFRESH" envDefault:"250000"`
}

// Load .env があれば読み込んでから環境変数を解析する
func Load() (*Config, error) {
	// .env がなくてもシステムの環境変数で動く
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 選択したバックエンドに必要な設定が揃っているかチェック
func (c *Config) Validate() error {
	var errs []error

	switch c.GeodataBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL環境変数が設定されていません"))
		}
		if c.SupabaseAnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_ANON_KEY環境変数が設定されていません"))
		}
	case BackendPostgres:
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL環境変数が設定されていません"))
		}
		if c.SupabaseDBPassword == "" {
			errs = append(errs, errors.New("SUPABASE_DB_PASSWORD環境変数が設定されていません"))
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID環境変数が設定されていません"))
		}
	default:
		errs = append(errs, fmt.Errorf("GEODATA_BACKEND が不正です: %q (supabase, postgres, firestore のいずれか)", c.GeodataBackend))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT が不正です: %q", c.LogFormat))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL は正の値である必要があります"))
	}
	if c.Map.TileTTL <= 0 || c.Map.ThrottleWindow <= 0 || c.Map.DebounceWindow <= 0 {
		errs = append(errs, errors.New("MAP_TILE_TTL / MAP_THROTTLE_WINDOW / MAP_DEBOUNCE_WINDOW は正の値である必要があります"))
	}
	if c.Map.BufferRatio < 0 {
		errs = append(errs, errors.New("MAP_BUFFER_RATIO は0以上である必要があります"))
	}
	if c.Map.ResultCap <= 0 {
		errs = append(errs, errors.New("MAP_RESULT_CAP は正の値である必要があります"))
	}
	if c.Map.MaxTiles < 0 || c.Map.MaxTilesPerRefresh <= 0 {
		errs = append(errs, errors.New("MAP_MAX_TILES は0以上、MAP_MAX_TILES_PER_REFRESH は正の値である必要があります"))
	}

	return errors.Join(errs...)
}

// TileCacheOptions タイルキャッシュの設定に変換
func (m MapConfig) TileCacheOptions() service.TileCacheOptions {
	return service.TileCacheOptions{
		TTL:                m.TileTTL,
		BufferRatio:        m.BufferRatio,
		ResultCap:          m.ResultCap,
		MaxTiles:           m.MaxTiles,
		MaxTilesPerRefresh: m.MaxTilesPerRefresh,
	}
}

// CoordinatorOptions フェッチコーディネータの設定に変換
func (m MapConfig) CoordinatorOptions() service.CoordinatorOptions {
	opts := service.DefaultCoordinatorOptions()
	opts.ThrottleWindow = m.ThrottleWindow
	opts.DebounceWindow = m.DebounceWindow
	// 有意なはみ出しの判定は先読みバッファと同じ割合を使う
	if m.BufferRatio > 0 {
		opts.SignificantRatio = m.BufferRatio
	}
	return opts
}
