package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	CameraID       string           `toml:"camera_id"`
	ServerURL      string           `toml:"server_url"`
	Environment    string           `toml:"environment"`
	LogLevel       string           `toml:"log_level"`
	LogFormat      string           `toml:"log_format"`
	StatusAddr     string           `toml:"status_addr"`
	AllowedOrigins []string         `toml:"allowed_origins"`
	JWTSecret      string           `toml:"jwt_secret"`
	TokenTTL       time.Duration    `toml:"token_ttl"`
	Redis          RedisConfig      `toml:"redis"`
	Media          MediaConfig      `toml:"media"`
	Signalling     SignallingConfig `toml:"signalling"`
}

type RedisConfig struct {
	Host     string        `toml:"host"`
	Port     string        `toml:"port"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

// Enabled reports whether camera presence should be published to Redis.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// MediaConfig describes the outgoing stream shared by every peer.
type MediaConfig struct {
	// Source is udp://host:port (RTP input) or ivf:///path/to/file.ivf.
	Source string `toml:"source"`
	// Payload uses RTP caps syntax, e.g.
	// application/x-rtp,media=video,encoding-name=VP8,payload=96
	Payload    string   `toml:"payload"`
	ICEServers []string `toml:"ice_servers"`
	BufferSize int      `toml:"buffer_size"`
}

type SignallingConfig struct {
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	PongWait         time.Duration `toml:"pong_wait"`
	PingPeriod       time.Duration `toml:"ping_period"`
	SendQueue        int           `toml:"send_queue"`
}

// Load builds the configuration from the environment. When CAMERA_CONFIG names a
// TOML file its values are applied on top of the environment defaults.
func Load() (*Config, error) {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	cfg := &Config{
		CameraID:       getEnv("CAMERA_ID", "test"),
		ServerURL:      getEnv("SIGNALLING_URL", "ws://127.0.0.1:8000"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		StatusAddr:     getEnv("STATUS_ADDR", ":8081"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", ""),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", 2*time.Minute),
		},
		Media: MediaConfig{
			Source:     getEnv("MEDIA_SOURCE", "udp://127.0.0.1:5004"),
			Payload:    getEnv("MEDIA_PAYLOAD", "application/x-rtp,media=video,encoding-name=VP8,payload=96"),
			ICEServers: splitNonEmpty(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302")),
			BufferSize: getEnvInt("MEDIA_BUFFER_SIZE", 1500),
		},
		Signalling: SignallingConfig{
			HandshakeTimeout: getEnvDuration("SIGNALLING_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getEnvDuration("SIGNALLING_WRITE_TIMEOUT", 10*time.Second),
			PongWait:         getEnvDuration("SIGNALLING_PONG_WAIT", 60*time.Second),
			PingPeriod:       getEnvDuration("SIGNALLING_PING_PERIOD", 54*time.Second),
			SendQueue:        getEnvInt("SIGNALLING_SEND_QUEUE", 256),
		},
	}

	if path := os.Getenv("CAMERA_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if _, err := toml.Decode(string(content), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks the fields the camera cannot start without.
func (c *Config) Validate() error {
	if c.CameraID == "" {
		return errors.New("camera id is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid signalling url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signalling url must use ws or wss, got %q", u.Scheme)
	}
	if c.Media.Source == "" {
		return errors.New("media source is required")
	}
	if c.Media.Payload == "" {
		return errors.New("media payload is required")
	}
	if c.Signalling.PingPeriod >= c.Signalling.PongWait {
		return errors.New("signalling ping period must be shorter than pong wait")
	}
	if c.Signalling.SendQueue <= 0 {
		return errors.New("signalling send queue must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
