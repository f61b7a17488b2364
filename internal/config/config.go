package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"idleforge/internal/economy"
)

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// Logger builds the process logger: JSON unless Format is "text".
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.Level, AddSource: l.AddSource}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type StoreConfig struct {
	Kind        string `toml:"kind"`
	DataDir     string `toml:"data_dir"`
	SQLitePath  string `toml:"sqlite_path"`
	DatabaseURL string `toml:"database_url"`
	CacheSize   int    `toml:"cache_size"`
}

type EconomyConfig struct {
	CatalogPath  string   `toml:"catalog"`
	TickEvery    Duration `toml:"tick_every"`
	SaveDebounce Duration `toml:"save_debounce"`
	SaveMaxWait  Duration `toml:"save_max_wait"`
	SaveTimeout  Duration `toml:"save_timeout"`
	ClickReward  string   `toml:"click_reward"`
}

// Reward parses ClickReward as a currency amount.
func (e EconomyConfig) Reward() (decimal.Decimal, error) {
	return economy.ParseAmount(e.ClickReward)
}

type WorkerConfig struct {
	PlayerID    string   `toml:"player"`
	RunOnce     bool     `toml:"run_once"`
	ReportEvery Duration `toml:"report_every"`
}

type Config struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout Duration      `toml:"shutdown_timeout"`
	Log             LogConfig     `toml:"log"`
	Store           StoreConfig   `toml:"store"`
	Economy         EconomyConfig `toml:"economy"`
	Worker          WorkerConfig  `toml:"worker"`
}

func Defaults() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: Duration{15 * time.Second},
		Log:             LogConfig{Level: slog.LevelInfo, Format: "json"},
		Store: StoreConfig{
			Kind:       "file",
			DataDir:    "data/players",
			SQLitePath: "data/idleforge.db",
			CacheSize:  256,
		},
		Economy: EconomyConfig{
			TickEvery:    Duration{time.Second},
			SaveDebounce: Duration{5 * time.Second},
			SaveMaxWait:  Duration{30 * time.Second},
			SaveTimeout:  Duration{10 * time.Second},
			ClickReward:  "1",
		},
		Worker: WorkerConfig{
			PlayerID:    "worker",
			ReportEvery: Duration{time.Minute},
		},
	}
}

// Load layers defaults, the optional TOML file at path and IDLEFORGE_*
// environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the file path taken from IDLEFORGE_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("IDLEFORGE_CONFIG"))
}

func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("IDLEFORGE_API_ADDR", cfg.Addr)
	}
	cfg.ShutdownTimeout.Duration = envDurationDefault("IDLEFORGE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout.Duration)

	if v := strings.TrimSpace(os.Getenv("IDLEFORGE_LOG_LEVEL")); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			cfg.Log.Level = lvl
		}
	}
	cfg.Log.Format = envDefault("IDLEFORGE_LOG_FORMAT", cfg.Log.Format)

	cfg.Store.Kind = strings.ToLower(envDefault("IDLEFORGE_STORE", cfg.Store.Kind))
	cfg.Store.DataDir = envDefault("IDLEFORGE_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.SQLitePath = envDefault("IDLEFORGE_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.DatabaseURL = envDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.CacheSize = envIntDefault("IDLEFORGE_CACHE_SIZE", cfg.Store.CacheSize)

	cfg.Economy.CatalogPath = envDefault("IDLEFORGE_CATALOG", cfg.Economy.CatalogPath)
	cfg.Economy.TickEvery.Duration = envDurationDefault("IDLEFORGE_TICK_EVERY", cfg.Economy.TickEvery.Duration)
	cfg.Economy.SaveDebounce.Duration = envDurationDefault("IDLEFORGE_SAVE_DEBOUNCE", cfg.Economy.SaveDebounce.Duration)
	cfg.Economy.SaveMaxWait.Duration = envDurationDefault("IDLEFORGE_SAVE_MAX_WAIT", cfg.Economy.SaveMaxWait.Duration)
	cfg.Economy.SaveTimeout.Duration = envDurationDefault("IDLEFORGE_SAVE_TIMEOUT", cfg.Economy.SaveTimeout.Duration)
	cfg.Economy.ClickReward = envDefault("IDLEFORGE_CLICK_REWARD", cfg.Economy.ClickReward)

	cfg.Worker.PlayerID = envDefault("IDLEFORGE_WORKER_PLAYER", cfg.Worker.PlayerID)
	cfg.Worker.RunOnce = envBoolDefault("IDLEFORGE_WORKER_RUN_ONCE", cfg.Worker.RunOnce)
	cfg.Worker.ReportEvery.Duration = envDurationDefault("IDLEFORGE_WORKER_REPORT_EVERY", cfg.Worker.ReportEvery.Duration)
}

func (c Config) Validate() error {
	switch c.Store.Kind {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Store.DataDir) == "" {
			return fmt.Errorf("IDLEFORGE_DATA_DIR is required for the file store")
		}
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("IDLEFORGE_SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q (memory, file, sqlite, postgres)", c.Store.Kind)
	}
	if c.Economy.TickEvery.Duration <= 0 {
		return fmt.Errorf("tick interval must be > 0")
	}
	if c.Economy.SaveDebounce.Duration <= 0 {
		return fmt.Errorf("save debounce must be > 0")
	}
	if _, err := c.Economy.Reward(); err != nil {
		return fmt.Errorf("click reward: %w", err)
	}
	if c.Worker.ReportEvery.Duration <= 0 {
		return fmt.Errorf("worker report interval must be > 0")
	}
	return nil
}

type CLIConfig struct {
	APIBaseURL string
	PlayerID   string
	Timeout    time.Duration
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("IDLEFORGE_API_BASE_URL", "http://localhost:8080"), "/"),
		PlayerID:   envDefault("IDLEFORGE_PLAYER", ""),
		Timeout:    envDurationDefault("IDLEFORGE_CLI_TIMEOUT", 20*time.Second),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
