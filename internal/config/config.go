package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load .env files into the environment before anything reads it.
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	JWT      JWTConfig      `json:"jwt"`
	Capture  CaptureConfig  `json:"capture"`
	Store    StoreConfig    `json:"store"`
	Export   ExportConfig   `json:"export"`
	Security SecurityConfig `json:"security"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	URI      string `json:"uri"`
}

type JWTConfig struct {
	SecretKey  string        `json:"secret_key"`
	Expiration time.Duration `json:"expiration"`
}

type CaptureConfig struct {
	RTMPPort string `json:"rtmp_port"`
	// PublishKeyHash is the bcrypt hash capture agents must match when
	// publishing. Empty disables the check.
	PublishKeyHash  string        `json:"publish_key_hash"`
	Timeslice       time.Duration `json:"timeslice"`
	SettleDelay     time.Duration `json:"settle_delay"`
	FinalizeTimeout time.Duration `json:"finalize_timeout"`
	UseFFmpeg       bool          `json:"use_ffmpeg"`
}

type StoreConfig struct {
	// Backend selects the persistence implementation: "mongo" (default) or
	// "memory" for embedded deployments with no database at all.
	Backend        string `json:"backend"`
	MaxSessions    int64  `json:"max_sessions"`
	MaxActions     int64  `json:"max_actions"`
	MaxScreenshots int64  `json:"max_screenshots"`
	MaxChunks      int64  `json:"max_chunks"`
	MaxUploadJobs  int64  `json:"max_upload_jobs"`
}

type ExportConfig struct {
	OutputDir string `json:"output_dir"`
}

type SecurityConfig struct {
	CORSOrigins []string      `json:"cors_origins"`
	RateLimit   int           `json:"rate_limit"`
	RateWindow  time.Duration `json:"rate_window"`
}

// LoadConfig loads config from environment variables and any .env file.
func LoadConfig() (*Config, error) {
	config := &Config{}

	if err := config.loadServerConfig(); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	config.loadDatabaseConfig()
	if err := config.loadJWTConfig(); err != nil {
		return nil, fmt.Errorf("failed to load jwt config: %w", err)
	}
	config.loadCaptureConfig()
	config.loadStoreConfig()
	config.loadExportConfig()
	config.loadSecurityConfig()

	return config, nil
}

func (c *Config) loadServerConfig() error {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}

	c.Server = ServerConfig{
		Port:         port,
		Host:         getEnv("HOST", "0.0.0.0"),
		ReadTimeout:  getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", time.Minute),
	}
	return nil
}

func (c *Config) loadDatabaseConfig() {
	c.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "27017"),
		Name:     getEnv("DB_NAME", "screenreel"),
		Username: getEnv("DB_USERNAME", ""),
		Password: getEnv("DB_PASSWORD", ""),
	}

	if c.Database.Username != "" && c.Database.Password != "" {
		c.Database.URI = fmt.Sprintf("mongodb://%s:%s@%s:%s", c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port)
	} else {
		c.Database.URI = fmt.Sprintf("mongodb://%s:%s", c.Database.Host, c.Database.Port)
	}
}

func (c *Config) loadJWTConfig() error {
	secretKey := getEnv("JWT_SECRET", "")
	if secretKey == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	c.JWT = JWTConfig{
		SecretKey:  secretKey,
		Expiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
	}
	return nil
}

func (c *Config) loadCaptureConfig() {
	c.Capture = CaptureConfig{
		RTMPPort:        getEnv("RTMP_PORT", "1935"),
		PublishKeyHash:  getEnv("PUBLISH_KEY_HASH", ""),
		Timeslice:       getDurationEnv("CAPTURE_TIMESLICE", time.Second),
		SettleDelay:     getDurationEnv("CAPTURE_SETTLE_DELAY", 150*time.Millisecond),
		FinalizeTimeout: getDurationEnv("CAPTURE_FINALIZE_TIMEOUT", 15*time.Second),
		UseFFmpeg:       getBoolEnv("CAPTURE_USE_FFMPEG", false),
	}
}

func (c *Config) loadStoreConfig() {
	c.Store = StoreConfig{
		Backend:        getEnv("STORE_BACKEND", "mongo"),
		MaxSessions:    getInt64Env("STORE_MAX_SESSIONS", 50),
		MaxActions:     getInt64Env("STORE_MAX_ACTIONS", 5000),
		MaxScreenshots: getInt64Env("STORE_MAX_SCREENSHOTS", 2000),
		MaxChunks:      getInt64Env("STORE_MAX_CHUNKS", 5000),
		MaxUploadJobs:  getInt64Env("STORE_MAX_UPLOAD_JOBS", 200),
	}
}

func (c *Config) loadExportConfig() {
	c.Export = ExportConfig{
		OutputDir: getEnv("EXPORT_DIR", "storage/exports"),
	}
}

func (c *Config) loadSecurityConfig() {
	corsOriginsStr := getEnv("CORS_ORIGINS", "*")
	var corsOrigins []string
	if corsOriginsStr != "*" {
		for _, origin := range strings.Split(corsOriginsStr, ",") {
			corsOrigins = append(corsOrigins, strings.TrimSpace(origin))
		}
	} else {
		corsOrigins = []string{"*"}
	}
	c.Security = SecurityConfig{
		CORSOrigins: corsOrigins,
		RateLimit:   getIntEnv("RATE_LIMIT", 100),
		RateWindow:  getDurationEnv("RATE_WINDOW", 1*time.Minute),
	}
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory":
	case "mongo":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt secret key is required")
	}
	if c.Capture.Timeslice <= 0 {
		return fmt.Errorf("capture timeslice must be positive")
	}
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export output dir is required")
	}
	return nil
}
