package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// devJWTSecret 仅在 APP_ENV=development 且未配置 JWT_SECRET 时使用。
const devJWTSecret = "dev-insecure-secret"

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Store     StoreConfig
	Redis     RedisConfig
	Log       LogConfig
	WebSocket WebSocketConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	log := loadLogConfig()

	auth, err := loadAuthConfig(log.Environment)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	ws, err := loadWebSocketConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Auth:      auth,
		Store:     store,
		Redis:     redis,
		Log:       log,
		WebSocket: ws,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AuthConfig 描述令牌校验配置。
type AuthConfig struct {
	Secret    string
	Algorithm string
}

var supportedAlgorithms = map[string]bool{"HS256": true, "HS384": true, "HS512": true}

func loadAuthConfig(environment string) (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		if environment != "development" {
			return AuthConfig{}, errors.New("JWT_SECRET is required outside development")
		}
		secret = devJWTSecret
	}

	alg := strings.ToUpper(getEnvOrDefault("JWT_ALGORITHM", "HS256"))
	if !supportedAlgorithms[alg] {
		return AuthConfig{}, fmt.Errorf("unsupported JWT_ALGORITHM %q", alg)
	}

	return AuthConfig{Secret: secret, Algorithm: alg}, nil
}

// StoreConfig 描述持久化后端。
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	BoltPath    string
	// SeedUsers 在内存和 bolt 模式下写入初始用户。
	SeedUsers []string
	// EnsureSchema 启动时创建缺失的表，生产环境通常交给迁移工具。
	EnsureSchema bool
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", DriverMemory))
	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	switch driver {
	case DriverMemory, DriverBolt:
	case DriverPostgres:
		if url == "" {
			return StoreConfig{}, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return StoreConfig{}, fmt.Errorf("unsupported STORE_DRIVER %q", driver)
	}

	ensure, err := parseBoolEnv("DB_ENSURE_SCHEMA", true)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Driver:       driver,
		DatabaseURL:  url,
		BoltPath:     getEnvOrDefault("BOLT_PATH", "data/social.bolt"),
		SeedUsers:    splitList(os.Getenv("SEED_USERS")),
		EnsureSchema: ensure,
	}, nil
}

// RedisConfig 描述身份缓存配置，URL 为空时不启用缓存。
type RedisConfig struct {
	URL         string
	IdentityTTL time.Duration
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func loadRedisConfig() (RedisConfig, error) {
	ttl, err := parseDurationEnv("IDENTITY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		URL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		IdentityTTL: ttl,
	}, nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Environment string
	Level       string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Environment: strings.ToLower(getEnvOrDefault("APP_ENV", "production")),
		Level:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
	}
}

// WebSocketConfig 描述实时连接相关参数。
type WebSocketConfig struct {
	// AllowedOrigins 为空时接受任意来源。
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	OpTimeout      time.Duration
	ReadLimit      int64
}

func loadWebSocketConfig() (WebSocketConfig, error) {
	cfg := WebSocketConfig{
		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
		SendBuffer:     128,
		ReadLimit:      64 * 1024,
	}

	if buffer, err := parseOptionalIntEnv("WS_SEND_BUFFER"); err != nil {
		return WebSocketConfig{}, err
	} else if buffer != nil {
		if *buffer < 1 {
			return WebSocketConfig{}, fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", *buffer)
		}
		cfg.SendBuffer = *buffer
	}

	if limit, err := parseOptionalIntEnv("WS_READ_LIMIT"); err != nil {
		return WebSocketConfig{}, err
	} else if limit != nil {
		if *limit < 1 {
			return WebSocketConfig{}, fmt.Errorf("WS_READ_LIMIT must be positive, got %d", *limit)
		}
		cfg.ReadLimit = int64(*limit)
	}

	var err error
	if cfg.PingInterval, err = parseDurationEnv("WS_PING_INTERVAL", 30*time.Second); err != nil {
		return WebSocketConfig{}, err
	}
	if cfg.PongWait, err = parseDurationEnv("WS_PONG_WAIT", 60*time.Second); err != nil {
		return WebSocketConfig{}, err
	}
	if cfg.WriteWait, err = parseDurationEnv("WS_WRITE_WAIT", 10*time.Second); err != nil {
		return WebSocketConfig{}, err
	}
	if cfg.OpTimeout, err = parseDurationEnv("WS_OP_TIMEOUT", 5*time.Second); err != nil {
		return WebSocketConfig{}, err
	}

	// pong 等待时间必须长于 ping 间隔，否则健康连接也会被判定超时。
	if cfg.PongWait <= cfg.PingInterval {
		return WebSocketConfig{}, fmt.Errorf("WS_PONG_WAIT (%s) must exceed WS_PING_INTERVAL (%s)", cfg.PongWait, cfg.PingInterval)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		value = strconv.Itoa(seconds) + "s"
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, val)
	}
	return val, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
