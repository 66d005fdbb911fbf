// Package config handles configuration loading and validation.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds one run's settings. The engine treats it as immutable.
type Config struct {
	RPCURL   string
	WSURL    string // newHeads endpoint for the block watcher; empty disables it
	Keys     string // comma-separated hex private keys
	Target   string // call target address
	CallData string // hex calldata sent with every transaction

	Total        uint64
	ValueWei     int64
	ChainID      uint64
	GasLimit     uint64
	GasFeeCapWei int64
	GasTipCapWei int64
	UseLegacy    bool

	MaxRetries        int
	CongestionBackoff time.Duration
	SendDelay         time.Duration
	NonceConcurrency  int
	SettleWait        time.Duration // 0 disables the settlement check

	MetricsAddr string // Prometheus listen address; empty disables it
	DryRun      bool
	LogLevel    string
}

// Defaults
const (
	DefaultRPCURL            = "http://localhost:8545"
	DefaultCallData          = "0x"
	DefaultTotal             = 100
	DefaultChainID           = 6342 // MegaETH testnet
	DefaultGasLimit          = 120000
	DefaultGasFeeCapWei      = 2000000000 // 2 Gwei
	DefaultGasTipCapWei      = 1000000000 // 1 Gwei
	DefaultMaxRetries        = 5
	DefaultCongestionBackoff = time.Second
	DefaultSendDelay         = 10 * time.Millisecond
	DefaultNonceConcurrency  = 16
	DefaultLogLevel          = "info"
)

// Default returns a config with every tunable at its default.
func Default() *Config {
	return &Config{
		RPCURL:            DefaultRPCURL,
		CallData:          DefaultCallData,
		Total:             DefaultTotal,
		ChainID:           DefaultChainID,
		GasLimit:          DefaultGasLimit,
		GasFeeCapWei:      DefaultGasFeeCapWei,
		GasTipCapWei:      DefaultGasTipCapWei,
		MaxRetries:        DefaultMaxRetries,
		CongestionBackoff: DefaultCongestionBackoff,
		SendDelay:         DefaultSendDelay,
		NonceConcurrency:  DefaultNonceConcurrency,
		LogLevel:          DefaultLogLevel,
	}
}

// FromEnv returns the defaults overridden by environment variables.
// Unparseable values are ignored and the default kept.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("PRIVATE_KEYS"); v != "" {
		cfg.Keys = v
	}
	if v := os.Getenv("TARGET_ADDRESS"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("CALL_DATA"); v != "" {
		cfg.CallData = v
	}
	if v := os.Getenv("TOTAL_TXS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Total = n
		}
	}
	if v := os.Getenv("TX_VALUE_WEI"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.ValueWei = n
		}
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.ChainID = n
		}
	}
	if v := os.Getenv("GAS_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.GasLimit = n
		}
	}
	if v := os.Getenv("GAS_FEE_CAP_WEI"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.GasFeeCapWei = n
		}
	}
	if v := os.Getenv("GAS_TIP_CAP_WEI"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.GasTipCapWei = n
		}
	}
	if v := os.Getenv("LEGACY_TX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseLegacy = b
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("CONGESTION_BACKOFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.CongestionBackoff = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SEND_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.SendDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NONCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NonceConcurrency = n
		}
	}
	if v := os.Getenv("SETTLE_WAIT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.SettleWait = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// Load reads configuration from environment variables and command-line
// flags. Flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := FromEnv()

	var (
		rpcURL      = flag.String("rpc-url", cfg.RPCURL, "JSON-RPC endpoint")
		wsURL       = flag.String("ws-url", cfg.WSURL, "WebSocket endpoint for the newHeads block watcher (empty disables)")
		keys        = flag.String("keys", cfg.Keys, "comma-separated hex private keys")
		target      = flag.String("to", cfg.Target, "target contract address")
		callData    = flag.String("data", cfg.CallData, "hex calldata sent with every transaction")
		total       = flag.Uint64("total", cfg.Total, "total transactions across all wallets")
		value       = flag.Int64("value", cfg.ValueWei, "wei attached to every transaction")
		chainID     = flag.Uint64("chain-id", cfg.ChainID, "expected chain id")
		gasLimit    = flag.Uint64("gas-limit", cfg.GasLimit, "per-transaction gas limit")
		gasFeeCap   = flag.Int64("gas-fee-cap", cfg.GasFeeCapWei, "EIP-1559 max fee per gas in wei")
		gasTipCap   = flag.Int64("gas-tip-cap", cfg.GasTipCapWei, "EIP-1559 priority fee (tip) in wei")
		legacy      = flag.Bool("legacy", cfg.UseLegacy, "send legacy transactions instead of dynamic-fee")
		maxRetries  = flag.Int("max-retries", cfg.MaxRetries, "send attempts per logical transaction")
		backoff     = flag.Duration("congestion-backoff", cfg.CongestionBackoff, "wait after a queue-full rejection")
		sendDelay   = flag.Duration("send-delay", cfg.SendDelay, "pause between a wallet's consecutive sends")
		nonceConc   = flag.Int("nonce-concurrency", cfg.NonceConcurrency, "parallel nonce fetches at startup")
		settleWait  = flag.Duration("settle-wait", cfg.SettleWait, "wait before the post-run confirmed-nonce check (0 disables)")
		metricsAddr = flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
		dryRun      = flag.Bool("dry-run", false, "load wallets and print the plan without sending")
		logLevel    = flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	)

	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.Keys = *keys
	cfg.Target = *target
	cfg.CallData = *callData
	cfg.Total = *total
	cfg.ValueWei = *value
	cfg.ChainID = *chainID
	cfg.GasLimit = *gasLimit
	cfg.GasFeeCapWei = *gasFeeCap
	cfg.GasTipCapWei = *gasTipCap
	cfg.UseLegacy = *legacy
	cfg.MaxRetries = *maxRetries
	cfg.CongestionBackoff = *backoff
	cfg.SendDelay = *sendDelay
	cfg.NonceConcurrency = *nonceConc
	cfg.SettleWait = *settleWait
	cfg.MetricsAddr = *metricsAddr
	cfg.DryRun = *dryRun
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if strings.TrimSpace(c.Keys) == "" {
		return fmt.Errorf("private key list is required")
	}
	if c.Target == "" {
		return fmt.Errorf("target address is required")
	}
	if !common.IsHexAddress(c.Target) {
		return fmt.Errorf("invalid target address: %s", c.Target)
	}
	if _, err := ParseCallData(c.CallData); err != nil {
		return fmt.Errorf("invalid call data: %w", err)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	if c.GasLimit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	if c.GasFeeCapWei <= 0 {
		return fmt.Errorf("gas fee cap must be positive")
	}
	if c.GasTipCapWei < 0 {
		return fmt.Errorf("gas tip cap cannot be negative")
	}
	if c.GasTipCapWei > c.GasFeeCapWei {
		return fmt.Errorf("gas tip cap %d exceeds fee cap %d", c.GasTipCapWei, c.GasFeeCapWei)
	}
	if c.ValueWei < 0 {
		return fmt.Errorf("value cannot be negative")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.NonceConcurrency < 1 {
		return fmt.Errorf("nonce concurrency must be at least 1")
	}
	return nil
}

// ParseCallData decodes hex calldata, tolerating an optional 0x prefix.
// Empty input means no calldata.
func ParseCallData(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return data, nil
}
