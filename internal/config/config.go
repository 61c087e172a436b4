package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/cheese-arena/internal/obslog"
)

const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

type AppConfig struct {
	APIAddr string
	WSAddr  string

	RedisURL    string
	DatabaseURL string
	Fanout      string
	// RedisKeyPrefix namespaces store and fanout keys.
	RedisKeyPrefix  string
	FinishedGameTTL time.Duration

	JWTSecret           string
	AllowHeaderIdentity bool
	AllowedOrigins      []string

	InitialClockSeconds    int
	SweepInterval          time.Duration
	PresenceResyncInterval time.Duration
	InvitationTTL          time.Duration

	MessagesDir string

	Log obslog.Options
}

// Load reads the environment. A .env file in the working directory (or the
// files named by ENV_FILE, comma separated) is applied first without
// overriding variables already set.
func Load() (*AppConfig, error) {
	if err := loadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		APIAddr:                ":8080",
		WSAddr:                 ":8081",
		Fanout:                 FanoutLocal,
		RedisKeyPrefix:         "arena:",
		FinishedGameTTL:        7 * 24 * time.Hour,
		InitialClockSeconds:    600,
		SweepInterval:          time.Second,
		PresenceResyncInterval: 2 * time.Second,
		Log: obslog.Options{
			Level:     "info",
			Format:    "legacy",
			ToConsole: true,
		},
	}

	if v := strings.TrimSpace(os.Getenv("API_ADDR")); v != "" {
		cfg.APIAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("FANOUT"))); v != "" {
		cfg.Fanout = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX")); v != "" {
		cfg.RedisKeyPrefix = v
	}

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if v := strings.TrimSpace(os.Getenv("ALLOW_HEADER_IDENTITY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ALLOW_HEADER_IDENTITY: %w", err)
		}
		cfg.AllowHeaderIdentity = b
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if v := strings.TrimSpace(os.Getenv("INITIAL_CLOCK_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("INITIAL_CLOCK_SECONDS must be a positive integer: %q", v)
		}
		cfg.InitialClockSeconds = n
	}
	var err error
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.PresenceResyncInterval, err = durationEnv("PRESENCE_RESYNC_INTERVAL", cfg.PresenceResyncInterval); err != nil {
		return nil, err
	}
	// 0 이면 종료된 게임을 Redis 에 계속 보관
	if cfg.FinishedGameTTL, err = durationEnv("FINISHED_GAME_TTL", cfg.FinishedGameTTL); err != nil {
		return nil, err
	}
	// 0 이면 초대 만료 비활성화
	if cfg.InvitationTTL, err = durationEnv("INVITATION_TTL", 0); err != nil {
		return nil, err
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	cfg.Log.ToConsole = boolEnv("LOG_TO_CONSOLE", true)
	cfg.Log.ToFile = boolEnv("LOG_TO_FILE", false)
	cfg.Log.Caller = boolEnv("LOG_CALLER", false)
	cfg.Log.FilePath = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Fanout != FanoutLocal && c.Fanout != FanoutRedis {
		return fmt.Errorf("FANOUT must be %q or %q", FanoutLocal, FanoutRedis)
	}
	if c.Fanout == FanoutRedis && c.RedisURL == "" {
		return errors.New("FANOUT=redis requires REDIS_URL")
	}
	if c.JWTSecret == "" && !c.AllowHeaderIdentity {
		return errors.New("either JWT_SECRET or ALLOW_HEADER_IDENTITY=true is required")
	}
	if c.SweepInterval <= 0 || c.PresenceResyncInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	return nil
}

func loadDotEnv(files string) error {
	names := splitList(files)
	if len(names) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(names...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration: %q", key, v)
	}
	return d, nil
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
