// Package config provides configuration for the session coordinator.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the coordinator's runtime configuration, loaded from the
// environment (with an optional .env file for local development).
type Config struct {
	// Server settings
	HTTPPort int

	// Storage: each session gets its own SQLite file under DataDir.
	DataDir string

	// External collaborators
	SandboxProviderURL string
	VCSHostURL         string

	// Secrets
	TokenEncryptionKey string // 32 bytes, used for AES-256-GCM
	ServiceHMACSecret  string // INTERNAL_CALLBACK_SECRET equivalent
	ProviderHMACSecret string // MODAL_API_SECRET equivalent
	AppPrivateKeyPEM   string // RSA private key for installation-token JWTs
	AppID              string
	AppInstallationID  string // single shared installation; no per-user isolation

	// Lifecycle tuning
	InactivityTimeout     time.Duration
	HeartbeatThreshold    time.Duration
	SpawnCooldown         time.Duration
	CircuitBreakerWindow  time.Duration
	CircuitBreakerCooldown time.Duration
	CircuitBreakerLimit   int

	// WebSocket tuning
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// PR/push tuning
	PushTimeout time.Duration

	LogLevel string
}

// Load reads configuration from the environment, falling back to a local
// .env file when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		DataDir:  getEnv("DATA_DIR", "./data"),

		SandboxProviderURL: getEnv("SANDBOX_PROVIDER_URL", "http://localhost:9000"),
		VCSHostURL:         getEnv("VCS_HOST_URL", "https://api.github.com"),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		ServiceHMACSecret:  getEnv("INTERNAL_CALLBACK_SECRET", ""),
		ProviderHMACSecret: getEnv("MODAL_API_SECRET", ""),
		AppPrivateKeyPEM:   getEnv("GITHUB_APP_PRIVATE_KEY_PEM", ""),
		AppID:              getEnv("GITHUB_APP_ID", ""),
		AppInstallationID:  getEnv("GITHUB_APP_INSTALLATION_ID", ""),

		InactivityTimeout:      time.Duration(getEnvInt("INACTIVITY_TIMEOUT_MS", 10*60*1000)) * time.Millisecond,
		HeartbeatThreshold:     time.Duration(getEnvInt("HEARTBEAT_THRESHOLD_MS", 45*1000)) * time.Millisecond,
		SpawnCooldown:          time.Duration(getEnvInt("SPAWN_COOLDOWN_MS", 5*1000)) * time.Millisecond,
		CircuitBreakerWindow:   time.Duration(getEnvInt("CIRCUIT_BREAKER_WINDOW_MS", 60*1000)) * time.Millisecond,
		CircuitBreakerCooldown: time.Duration(getEnvInt("CIRCUIT_BREAKER_COOLDOWN_MS", 2*60*1000)) * time.Millisecond,
		CircuitBreakerLimit:    getEnvInt("CIRCUIT_BREAKER_LIMIT", 3),

		AuthTimeout:    time.Duration(getEnvInt("WS_AUTH_TIMEOUT_MS", 30*1000)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30*1000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10*1000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60*1000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),

		PushTimeout: time.Duration(getEnvInt("PUSH_TIMEOUT_MS", 180*1000)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
