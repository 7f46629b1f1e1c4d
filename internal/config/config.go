package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aegis-sign/wcsigner/internal/namespace"
)

// Config 是 wcsigner 的完整配置。
type Config struct {
	Log        LogConfig              `yaml:"log" toml:"log"`
	Server     ServerConfig           `yaml:"server" toml:"server"`
	Relay      RelayConfig            `yaml:"relay" toml:"relay"`
	Key        KeyConfig              `yaml:"key" toml:"key"`
	Wallet     namespace.Metadata     `yaml:"wallet" toml:"wallet"`
	Namespaces namespace.Capabilities `yaml:"namespaces" toml:"namespaces" validate:"required,min=1,dive"`
	Sessions   SessionsConfig         `yaml:"sessions" toml:"sessions"`
	Dispatch   DispatchConfig         `yaml:"dispatch" toml:"dispatch"`
}

// LogConfig 控制日志级别。
type LogConfig struct {
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
}

// ServerConfig 是运维接口监听地址，留空表示不启动。
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// RelayConfig 描述 relay 连接。
type RelayConfig struct {
	URL              string        `yaml:"url" toml:"url" validate:"required,url"`
	ProjectID        string        `yaml:"project_id" toml:"project_id"`
	Endpoint         string        `yaml:"endpoint" toml:"endpoint"`
	DialTimeout      time.Duration `yaml:"dial_timeout" toml:"dial_timeout" validate:"gte=0"`
	RequestTimeout   time.Duration `yaml:"request_timeout" toml:"request_timeout" validate:"gte=0"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout" validate:"gte=0"`
}

// KeyConfig 指定签名私钥来源：加密密钥文件或环境变量中的十六进制私钥，二选一。
type KeyConfig struct {
	File          string `yaml:"file" toml:"file" validate:"required_without=PrivateKeyEnv"`
	PassphraseEnv string `yaml:"passphrase_env" toml:"passphrase_env"`
	PrivateKeyEnv string `yaml:"private_key_env" toml:"private_key_env" validate:"required_without=File"`
}

// SessionsConfig 控制会话有效期与持久化。
type SessionsConfig struct {
	TTL    time.Duration `yaml:"ttl" toml:"ttl" validate:"gte=0"`
	DBPath string        `yaml:"db_path" toml:"db_path"`
}

// DispatchConfig 对应 dispatch.Config。
type DispatchConfig struct {
	MaxQueue       int           `yaml:"max_queue" toml:"max_queue" validate:"gte=0"`
	RateLimit      float64       `yaml:"rate_limit" toml:"rate_limit" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" toml:"rate_burst" validate:"gte=0"`
	DedupSize      int           `yaml:"dedup_size" toml:"dedup_size" validate:"gte=0"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" toml:"handler_timeout" validate:"gte=0"`
	PublishTimeout time.Duration `yaml:"publish_timeout" toml:"publish_timeout" validate:"gte=0"`
}

// Default 返回默认配置：以太坊主网与 Polygon，常用签名方法与事件。
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8080", GRPCAddr: "127.0.0.1:9090"},
		Relay: RelayConfig{
			URL:              "wss://relay.walletconnect.com",
			DialTimeout:      10 * time.Second,
			RequestTimeout:   10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Key: KeyConfig{PassphraseEnv: "WCSIGNER_PASSPHRASE"},
		Wallet: namespace.Metadata{
			Name:        "wcsigner",
			Description: "Relay-paired signing client",
			URL:         "https://github.com/aegis-sign/wcsigner",
			Icons:       []string{},
		},
		Namespaces: namespace.Capabilities{{
			Namespace: "eip155",
			Chains:    []string{"eip155:1", "eip155:137"},
			Methods:   []string{"personal_sign", "eth_sendTransaction", "eth_signTypedData"},
			Events:    []string{"accountsChanged", "chainChanged"},
		}},
		Sessions: SessionsConfig{TTL: 7 * 24 * time.Hour},
		Dispatch: DispatchConfig{MaxQueue: 64, RateBurst: 1, DedupSize: 256, HandlerTimeout: 30 * time.Second, PublishTimeout: 5 * time.Second},
	}
}

// Load 读取配置文件（按扩展名选择 YAML 或 TOML），叠加 WCSIGNER_* 环境变量后校验。
// path 为空时只使用默认值与环境变量。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(filepath.Ext(path), data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		// toml 会复用已有切片元素，文件中给出的命名空间须整体替换默认值。
		var probe Config
		meta, err := toml.Decode(string(data), &probe)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown config keys: %v", undecoded)
		}
		if meta.IsDefined("namespaces") {
			cfg.Namespaces = nil
		}
		if meta.IsDefined("wallet", "icons") {
			cfg.Wallet.Icons = nil
		}
		_, err = toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

var validate = validator.New()

// Validate 校验结构约束与命名空间配置。
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Namespaces.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel 将配置中的级别转为 slog.Level。
func (c Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
