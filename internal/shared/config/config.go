package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	OpenBanking OpenBankingConfig
	TLS         TLSConfig
	Firebase    FirebaseConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	// AppURL is the public base URL of the console frontend; the consent
	// callback redirects the provider window back to it.
	AppURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// SessionTTL bounds how long an unfinished consent session survives.
	SessionTTL time.Duration
}

type JWTConfig struct {
	Secret string
}

type OpenBankingConfig struct {
	BaseURL           string
	APIKey            string
	CallbackURL       string
	AccessWindowDays  int
	HistoryWindowDays int
	PollInterval      time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type FirebaseConfig struct {
	CredentialsFile string
	MessagesFile    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {
	// Pick up a local .env when present; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	sessionTTL, err := time.ParseDuration(getEnv("CONSENT_SESSION_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONSENT_SESSION_TTL: %w", err)
	}

	accessDays, err := strconv.Atoi(getEnv("OPENBANKING_ACCESS_WINDOW_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENBANKING_ACCESS_WINDOW_DAYS: %w", err)
	}
	historyDays, err := strconv.Atoi(getEnv("OPENBANKING_HISTORY_WINDOW_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENBANKING_HISTORY_WINDOW_DAYS: %w", err)
	}
	pollInterval, err := time.ParseDuration(getEnv("OPENBANKING_POLL_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid OPENBANKING_POLL_INTERVAL: %w", err)
	}

	// Parse TLS configuration
	tlsEnabled := getBoolEnv("TLS_ENABLED", false)

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	// The provider redirects the consent window through our callback
	// endpoint; the URL is derived from HOST_URL unless overridden.
	hostURL := getEnv("HOST_URL", "")
	callbackURL := getEnv("OPENBANKING_CALLBACK_URL", "")
	if callbackURL == "" && hostURL != "" {
		callbackURL = fmt.Sprintf("%s/api/bank-connections/callback", hostURL)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
			AppURL:       getEnv("APP_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "subsidia"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "subsidia"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         redisDB,
			SessionTTL: sessionTTL,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		OpenBanking: OpenBankingConfig{
			BaseURL:           getEnv("OPENBANKING_BASE_URL", "https://ob.nordigen.com/api/v2"),
			APIKey:            getEnv("OPENBANKING_API_KEY", ""),
			CallbackURL:       callbackURL,
			AccessWindowDays:  accessDays,
			HistoryWindowDays: historyDays,
			PollInterval:      pollInterval,
		},
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			MessagesFile:    getEnv("NOTIFICATION_MESSAGES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "subsidia-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.OpenBanking.APIKey == "" {
		return nil, fmt.Errorf("OPENBANKING_API_KEY is required")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
