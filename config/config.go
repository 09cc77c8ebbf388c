package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Zego     ZegoConfig
	AWS      AWSConfig
	Sweep    SweepConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma-separated; "*" allows all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/groupcare?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// ZegoConfig holds ZEGOCLOUD credentials for live room tokens.
type ZegoConfig struct {
	AppID          uint32
	ServerSecret   string
	TokenTTLMinute int
}

// AWSConfig holds AWS credentials and the attendance export bucket.
type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	AttendanceBucket string
}

// SweepConfig controls the periodic status and reminder sweeps.
type SweepConfig struct {
	Secret           string        // SWEEP_SECRET; empty rejects every trigger call
	StatusInterval   time.Duration // also the status run deadline
	ReminderInterval time.Duration // also the reminder run deadline
	Lookback         time.Duration
	Parallelism      int
	NotifyTimeout    time.Duration
	InProcess        bool // run the ticker inside cmd/worker
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	zegoAppID, err := strconv.ParseUint(getEnv("ZEGO_APP_ID", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ZEGO_APP_ID: %w", err)
	}
	sweep, err := loadSweep()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "groupcare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Zego: ZegoConfig{
			AppID:          uint32(zegoAppID),
			ServerSecret:   getEnv("ZEGO_SERVER_SECRET", ""),
			TokenTTLMinute: getEnvInt("ZEGO_TOKEN_TTL_MINUTES", 240),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AttendanceBucket: getEnv("AWS_S3_ATTENDANCE_BUCKET", "groupcare-attendance"),
		},
		Sweep: sweep,
	}
	return cfg, nil
}

func loadSweep() (SweepConfig, error) {
	var sc SweepConfig
	var err error
	sc.Secret = os.Getenv("SWEEP_SECRET")
	if sc.StatusInterval, err = getEnvDuration("SWEEP_STATUS_INTERVAL", 5*time.Minute); err != nil {
		return sc, err
	}
	if sc.ReminderInterval, err = getEnvDuration("SWEEP_REMINDER_INTERVAL", 15*time.Minute); err != nil {
		return sc, err
	}
	if sc.NotifyTimeout, err = getEnvDuration("SWEEP_NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return sc, err
	}
	sc.Lookback = time.Duration(getEnvInt("SWEEP_LOOKBACK_HOURS", 7*24)) * time.Hour
	sc.Parallelism = getEnvInt("SWEEP_PARALLELISM", 8)
	sc.InProcess = getEnvBool("SWEEP_IN_PROCESS", false)
	return sc, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
