package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var meetingCodeSample = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)

// Config is sourced from the process environment on top of DefaultConfig.
// This service has no config-file deployment story; fields with no env var
// (server timeouts, signal ping/pong, rate limiting) keep their
// DefaultConfig value.
type Config struct {
	Server struct {
		Port            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		CORSOrigins     []string
	}

	Signal struct {
		PingInterval time.Duration
		PongTimeout  time.Duration
	}

	Database struct {
		URL string
	}

	WebRTC struct {
		ListenIP    string
		AnnouncedIP string
		MinPort     uint16
		MaxPort     uint16
		NumWorkers  int
	}

	Meeting struct {
		CodeSample string
	}

	Auth struct {
		Secret string
	}

	TURN struct {
		Secret    string
		ServerURL string
	}

	SMTP struct {
		Host string
		Port int
		User string
		Pass string
		From string
	}

	Redis struct {
		URL string
	}

	Logging struct {
		Level string
	}

	RateLimiting struct {
		Enabled bool

		HTTP struct {
			RequestsPerSecond float64
			Burst             int
			MaxConcurrent     int
		}

		WebSocket struct {
			ConnectionsPerMinute int
			MessagesPerSecond    float64
			Burst                int
			MaxConcurrent        int
			MaxMessageSizeBytes  int64
		}
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal ping interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal pong timeout must be > 0")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}

	if c.WebRTC.ListenIP == "" {
		return fmt.Errorf("LISTEN_IP must not be empty")
	}
	if c.WebRTC.MinPort == 0 || c.WebRTC.MaxPort == 0 {
		return fmt.Errorf("RTC_MIN_PORT and RTC_MAX_PORT must both be set")
	}
	if c.WebRTC.MinPort >= c.WebRTC.MaxPort {
		return fmt.Errorf("RTC_MIN_PORT must be < RTC_MAX_PORT")
	}
	if c.WebRTC.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be > 0")
	}

	if !meetingCodeSample.MatchString(c.Meeting.CodeSample) {
		return fmt.Errorf("MEETING_CODE must match the aaa-aaaa-aaa shape")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_SECRET must not be empty")
	}
	if c.TURN.Secret == "" {
		return fmt.Errorf("TURN_SECRET must not be empty")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("LOG_LEVEL must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("http requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("http burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("http max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("websocket connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("websocket messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("websocket burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("websocket max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("websocket max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load builds configuration from the process environment on top of
// DefaultConfig, then validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults for local
// development. Its AUTH_SECRET/TURN_SECRET values are placeholders that
// Validate() accepts as they are; it only rejects empty secrets.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.CORSOrigins = []string{"*"}

	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second

	cfg.Database.URL = "postgres://localhost:5432/confsfu?sslmode=disable"

	cfg.WebRTC.ListenIP = "0.0.0.0"
	cfg.WebRTC.AnnouncedIP = ""
	cfg.WebRTC.MinPort = 40000
	cfg.WebRTC.MaxPort = 49999
	cfg.WebRTC.NumWorkers = 4

	cfg.Meeting.CodeSample = "abc-defg-hij"

	cfg.Auth.Secret = "change-me-in-production"
	cfg.TURN.Secret = "change-me-in-production"
	cfg.TURN.ServerURL = ""

	cfg.SMTP.Port = 587

	cfg.Logging.Level = "info"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LISTEN_IP"); v != "" {
		c.WebRTC.ListenIP = v
	}
	if v := os.Getenv("ANNOUNCED_IP"); v != "" {
		c.WebRTC.AnnouncedIP = v
	}
	if v := os.Getenv("RTC_MIN_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.WebRTC.MinPort = uint16(n)
		}
	}
	if v := os.Getenv("RTC_MAX_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.WebRTC.MaxPort = uint16(n)
		}
	}
	if v := os.Getenv("NUM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WebRTC.NumWorkers = n
		}
	}
	if v := os.Getenv("MEETING_CODE"); v != "" {
		c.Meeting.CodeSample = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("TURN_SECRET"); v != "" {
		c.TURN.Secret = v
	}
	if v := os.Getenv("TURN_SERVER_URL"); v != "" {
		c.TURN.ServerURL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		c.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		c.SMTP.Pass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.SMTP.From = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
