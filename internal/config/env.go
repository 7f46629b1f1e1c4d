package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv 用 WCSIGNER_* 环境变量覆盖配置，无法解析的值被忽略。
func applyEnv(cfg *Config) {
	if v := os.Getenv("WCSIGNER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("WCSIGNER_HTTP_ADDR"); ok {
		cfg.Server.HTTPAddr = v
	}
	if v, ok := os.LookupEnv("WCSIGNER_GRPC_ADDR"); ok {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("WCSIGNER_RELAY_URL"); v != "" {
		cfg.Relay.URL = v
	}
	if v := os.Getenv("WCSIGNER_RELAY_PROJECT_ID"); v != "" {
		cfg.Relay.ProjectID = v
	}
	if v := os.Getenv("WCSIGNER_RELAY_ENDPOINT"); v != "" {
		cfg.Relay.Endpoint = v
	}
	if d := readDuration("WCSIGNER_RELAY_DIAL_TIMEOUT"); d > 0 {
		cfg.Relay.DialTimeout = d
	}
	if d := readDuration("WCSIGNER_HANDSHAKE_TIMEOUT"); d > 0 {
		cfg.Relay.HandshakeTimeout = d
	}
	if v := os.Getenv("WCSIGNER_KEY_FILE"); v != "" {
		cfg.Key.File = v
	}
	if v := os.Getenv("WCSIGNER_PRIVATE_KEY_ENV"); v != "" {
		cfg.Key.PrivateKeyEnv = v
	}
	if v := os.Getenv("WCSIGNER_SESSION_DB"); v != "" {
		cfg.Sessions.DBPath = v
	}
	if d := readDuration("WCSIGNER_SESSION_TTL"); d > 0 {
		cfg.Sessions.TTL = d
	}
	if v := readInt("WCSIGNER_DISPATCH_MAX_QUEUE"); v > 0 {
		cfg.Dispatch.MaxQueue = v
	}
	if v := readFloat("WCSIGNER_DISPATCH_RATE_LIMIT"); v >= 0 {
		cfg.Dispatch.RateLimit = v
	}
	if v := readInt("WCSIGNER_DISPATCH_RATE_BURST"); v > 0 {
		cfg.Dispatch.RateBurst = v
	}
	if d := readDuration("WCSIGNER_DISPATCH_PUBLISH_TIMEOUT"); d > 0 {
		cfg.Dispatch.PublishTimeout = d
	}
}

func readInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return v
}

func readDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func readFloat(key string) float64 {
	value := os.Getenv(key)
	if value == "" {
		return -1
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return -1
	}
	return v
}
