package config

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// VenueCredentials mirrors the opaque (§6) credentials envelope a venue
// adapter extracts what it needs from. LoadExecutionConfig stores every
// field exactly as read from the environment. DecodeSecret resolves the
// encoded forms, but nothing between LoadExecutionConfig and a venue
// session calls it, so an encoded value reaches the adapter still encoded.
type VenueCredentials struct {
	APIKey      string
	APISecret   string
	Passphrase  string
	Address     string
	PrivateKey  string
	Env         string
	ExtraFields map[string]string
}

// VenueActivation is one (network, exchange, resources, account,
// credentials) tuple read from the environment at startup, handed to the
// router's rx_config stream.
type VenueActivation struct {
	Network    string
	Exchange   string
	Account    string
	Execution  bool
	Accounting bool
	Leverage   string
	Creds      VenueCredentials
}

// ExecutionConfig is the execution core's process-wide configuration.
type ExecutionConfig struct {
	Account          string
	DatabaseURL      string
	ShutdownDrain    time.Duration
	SoftCleanupEvery time.Duration
	Venues           []VenueActivation
}

// LoadExecutionConfig reads venue activation tuples from the environment.
// Each venue is addressed by an uppercase prefix, e.g. BINANCE_API_KEY,
// BINANCE_API_SECRET, BINANCE_ACCOUNT, BINANCE_RESOURCES=execution,accounting.
func LoadExecutionConfig(venuePrefixes []string) (*ExecutionConfig, error) {
	cfg := &ExecutionConfig{
		Account:          getEnv("EXEC_ACCOUNT", "default"),
		DatabaseURL:      getEnv("EXEC_DATABASE_URL", "postgres://localhost/executioncore?sslmode=disable"),
		ShutdownDrain:    getEnvDuration("EXEC_SHUTDOWN_DRAIN", 15*time.Second),
		SoftCleanupEvery: getEnvDuration("EXEC_SOFT_CLEANUP_INTERVAL", 5*time.Second),
	}

	for _, prefix := range venuePrefixes {
		p := strings.ToUpper(prefix)
		apiKey := os.Getenv(p + "_API_KEY")
		if apiKey == "" {
			continue
		}
		resources := getEnv(p+"_RESOURCES", "execution,accounting")
		activation := VenueActivation{
			Network:    getEnv(p+"_NETWORK", "mainnet"),
			Exchange:   strings.ToLower(prefix),
			Account:    getEnv(p+"_ACCOUNT", cfg.Account),
			Execution:  strings.Contains(resources, "execution"),
			Accounting: strings.Contains(resources, "accounting"),
			Leverage:   os.Getenv(p + "_LEVERAGE"),
			Creds: VenueCredentials{
				APIKey:     apiKey,
				APISecret:  os.Getenv(p + "_API_SECRET"),
				Passphrase: os.Getenv(p + "_PASSPHRASE"),
				Address:    os.Getenv(p + "_ADDRESS"),
				PrivateKey: os.Getenv(p + "_PRIVATE_KEY"),
				Env:        os.Getenv(p + "_ENV"),
			},
		}
		cfg.Venues = append(cfg.Venues, activation)
	}

	return cfg, nil
}

// DecodeSecret resolves one credential field's encoding (§6): raw,
// base64:, 0x-prefixed hex, aes256: (via password), ed25519:/rsa:/ecdsa:
// (passed through as PEM/raw key material for the adapter to parse), and
// file: (read from disk). Unknown prefixes are treated as raw.
func DecodeSecret(value, aesPassword string) (string, error) {
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
		if err != nil {
			return "", fmt.Errorf("decode base64 secret: %w", err)
		}
		return string(b), nil
	case strings.HasPrefix(value, "0x"):
		b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return "", fmt.Errorf("decode hex secret: %w", err)
		}
		return string(b), nil
	case strings.HasPrefix(value, "aes256:"):
		return decryptAES256(strings.TrimPrefix(value, "aes256:"), aesPassword)
	case strings.HasPrefix(value, "ed25519:"), strings.HasPrefix(value, "rsa:"), strings.HasPrefix(value, "ecdsa:"):
		// Key material is handed through verbatim; the venue adapter that
		// needs asymmetric signing parses the PEM/raw bytes itself.
		return value[strings.Index(value, ":")+1:], nil
	case strings.HasPrefix(value, "file:"):
		b, err := os.ReadFile(strings.TrimPrefix(value, "file:"))
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return value, nil
	}
}

// decryptAES256 expects payload as base64(nonce || ciphertext) and
// decrypts with AES-256-GCM under the given password (already the raw
// 32-byte key, hex or base64 encoded).
func decryptAES256(payload, password string) (string, error) {
	key, err := aesKeyFromPassword(password)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode aes256 payload: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("build gcm mode: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("aes256 payload shorter than nonce size")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt aes256 payload: %w", err)
	}
	return string(plain), nil
}

func aesKeyFromPassword(password string) ([]byte, error) {
	if b, err := hex.DecodeString(password); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(password); err == nil && len(b) == 32 {
		return b, nil
	}
	if len(password) == 32 {
		return []byte(password), nil
	}
	return nil, fmt.Errorf("aes256 password must decode to a 32-byte key")
}

// EnvLeverage parses a decimal leverage string from VenueActivation.
// Returns (0, false) when unset.
func EnvLeverage(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
