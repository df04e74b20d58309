package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OverflowPolicy 决定连接发送队列写满时的处理方式。
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// 聊天核心相关
	TypingTimeout   time.Duration
	StoreTimeout    time.Duration
	SendQueueSize   int
	OverflowPolicy  OverflowPolicy
	RequireWSToken  bool
	FramesPerSecond float64
	FrameBurst      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func Load() Config {
	env := getenv("APP_ENV", "dev")
	policy := OverflowPolicy(strings.ToLower(getenv("WS_OVERFLOW_POLICY", string(OverflowDropOldest))))
	if policy != OverflowDisconnect {
		policy = OverflowDropOldest
	}
	// 非 dev 环境默认要求握手时携带 access token
	requireToken := getenvBool("WS_REQUIRE_TOKEN", env != "dev")
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=homechat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   env,
		LogLevel:              getenv("LOG_LEVEL", "info"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		TypingTimeout:         time.Duration(getenvInt("TYPING_TIMEOUT_MS", 2000)) * time.Millisecond,
		StoreTimeout:          time.Duration(getenvInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
		SendQueueSize:         getenvInt("WS_SEND_QUEUE", 256),
		OverflowPolicy:        policy,
		RequireWSToken:        requireToken,
		FramesPerSecond:       getenvFloat("WS_FRAMES_PER_SECOND", 20),
		FrameBurst:            getenvInt("WS_FRAME_BURST", 40),
	}
}

const defaultJWTSecret = "dev-secret-change-me"

// Validate 检查启动所需的关键配置，非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	if cfg.TypingTimeout < 0 || cfg.SendQueueSize < 0 {
		return errors.New("config: negative chat limits")
	}
	return nil
}
