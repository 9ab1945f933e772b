// Package config loads server settings: defaults, then an optional YAML
// file, then environment overrides. Command-line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"solana-mcp/go-backend/internal/wallet"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRPCURL       = "https://api.devnet.solana.com"
	DefaultPort         = 8080
	DefaultMaxLineBytes = 1 << 20

	TransportStdio  = "stdio"
	TransportSocket = "socket"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.LevelError + 4

type Config struct {
	RPCURL            string
	WalletPath        string
	Port              int
	ListenAddr        string
	Transport         string
	LogLevel          string
	MetricsAddr       string
	ReadOnly          bool
	RequireInitialize bool
	InitializeOnStart bool
	MaxLineBytes      int
	Ledger            LedgerConfig
	Wallets           []wallet.Spec
	Tokens            []TokenLabel
}

type LedgerConfig struct {
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Commitment     string
}

// TokenLabel names a mint for get_token_accounts output.
type TokenLabel struct {
	Mint   string `yaml:"mint"`
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
}

// FileConfig is the YAML shape. Pointer fields distinguish "unset" from
// an explicit false or zero.
type FileConfig struct {
	RPCURL            string           `yaml:"rpcURL"`
	WalletPath        string           `yaml:"walletPath"`
	Port              int              `yaml:"port"`
	ListenAddr        string           `yaml:"listenAddr"`
	Transport         string           `yaml:"transport"`
	LogLevel          string           `yaml:"logLevel"`
	MetricsAddr       string           `yaml:"metricsAddr"`
	ReadOnly          *bool            `yaml:"readOnly"`
	RequireInitialize *bool            `yaml:"requireInitialize"`
	InitializeOnStart *bool            `yaml:"initializeOnStart"`
	MaxLineBytes      int              `yaml:"maxLineBytes"`
	Ledger            FileLedgerConfig `yaml:"ledger"`
	Wallets           []wallet.Spec    `yaml:"wallets"`
	Tokens            []TokenLabel     `yaml:"tokens"`
}

type FileLedgerConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RateLimitRPS   float64       `yaml:"rateLimitRPS"`
	RateLimitBurst int           `yaml:"rateLimitBurst"`
	Commitment     string        `yaml:"commitment"`
}

func Default() Config {
	return Config{
		RPCURL:            DefaultRPCURL,
		Port:              DefaultPort,
		Transport:         TransportStdio,
		LogLevel:          "INFO",
		InitializeOnStart: true,
		MaxLineBytes:      DefaultMaxLineBytes,
		Ledger: LedgerConfig{
			Timeout:        30 * time.Second,
			RateLimitRPS:   4,
			RateLimitBurst: 10,
			Commitment:     "confirmed",
		},
	}
}

// Load reads configPath, or the first default candidate that exists when
// configPath is empty. A missing explicit path is an error; a missing
// default candidate is not.
func Load(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"configs/config.yaml"}
	explicit := strings.TrimSpace(configPath) != ""
	if explicit {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}
	if err := ApplyEnvOverrides(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	if src.RPCURL != "" {
		dst.RPCURL = src.RPCURL
	}
	if src.WalletPath != "" {
		dst.WalletPath = src.WalletPath
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.ReadOnly != nil {
		dst.ReadOnly = *src.ReadOnly
	}
	if src.RequireInitialize != nil {
		dst.RequireInitialize = *src.RequireInitialize
	}
	if src.InitializeOnStart != nil {
		dst.InitializeOnStart = *src.InitializeOnStart
	}
	if src.MaxLineBytes != 0 {
		dst.MaxLineBytes = src.MaxLineBytes
	}
	if src.Ledger.Timeout != 0 {
		dst.Ledger.Timeout = src.Ledger.Timeout
	}
	if src.Ledger.RateLimitRPS != 0 {
		dst.Ledger.RateLimitRPS = src.Ledger.RateLimitRPS
	}
	if src.Ledger.RateLimitBurst != 0 {
		dst.Ledger.RateLimitBurst = src.Ledger.RateLimitBurst
	}
	if src.Ledger.Commitment != "" {
		dst.Ledger.Commitment = src.Ledger.Commitment
	}
	if src.Wallets != nil {
		dst.Wallets = src.Wallets
	}
	if src.Tokens != nil {
		dst.Tokens = src.Tokens
	}
}

func ApplyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("SOLANA_MCP_RPC_URL")); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(getenv("SOLANA_MCP_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(getenv("SOLANA_MCP_TRANSPORT")); v != "" {
		cfg.Transport = v
	}
	if v := strings.TrimSpace(getenv("SOLANA_MCP_READ_ONLY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SOLANA_MCP_READ_ONLY: %w", err)
		}
		cfg.ReadOnly = b
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("rpc url is required")
	}
	switch c.Transport {
	case TransportStdio, TransportSocket:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportStdio, TransportSocket)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("maxLineBytes must be positive, got %d", c.MaxLineBytes)
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger timeout must be positive, got %s", c.Ledger.Timeout)
	}
	return nil
}

// ListenAddress returns the socket listen multiaddr, built from Port when
// ListenAddr is unset.
func (c Config) ListenAddress() string {
	if strings.TrimSpace(c.ListenAddr) != "" {
		return strings.TrimSpace(c.ListenAddr)
	}
	return fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", c.Port)
}

// TokenLabels indexes configured labels by mint.
func (c Config) TokenLabels() map[string]TokenLabel {
	out := make(map[string]TokenLabel, len(c.Tokens))
	for _, t := range c.Tokens {
		if mint := strings.TrimSpace(t.Mint); mint != "" {
			out[mint] = t
		}
	}
	return out
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
