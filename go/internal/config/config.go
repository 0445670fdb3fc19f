package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the arena server
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`

	Contest  ContestConfig  `yaml:"contest"`
	Rooms    RoomsConfig    `yaml:"rooms"`
	NATS     NATSConfig     `yaml:"nats"`
	Identity IdentityConfig `yaml:"identity"`
}

// ContestConfig holds the contest rules
type ContestConfig struct {
	MaxPlayers           int           `yaml:"max_players"`
	MinPlayers           int           `yaml:"min_players"`
	CountdownSeconds     int           `yaml:"countdown_seconds"`
	Duration             time.Duration `yaml:"duration"`
	AllowRestartAfterEnd bool          `yaml:"allow_restart_after_end"`
}

// RoomsConfig controls room retention and the coordinator inbox
type RoomsConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"` // 0 disables eviction
	SweepInterval time.Duration `yaml:"sweep_interval"`
	InboxSize     int           `yaml:"inbox_size"`
}

// NATSConfig enables the JetStream event mirror when URL is set
type NATSConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// IdentityConfig maps join tokens to display names. An empty token map with
// RequireToken unset trusts the claimed name.
type IdentityConfig struct {
	RequireToken bool              `yaml:"require_token"`
	Tokens       map[string]string `yaml:"tokens"`
}

const localClientOrigin = "http://localhost:5173"

// NewConfigFromEnv reads ARENA_* environment variables (with defaults)
func NewConfigFromEnv() Config {
	origins := []string{localClientOrigin}
	if clientURL := os.Getenv("CLIENT_URL"); clientURL != "" {
		origins = append(origins, clientURL)
	}
	if extra := os.Getenv("ARENA_ALLOWED_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return Config{
		Port:           getEnv("PORT", "5000"),
		AllowedOrigins: origins,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		Contest: ContestConfig{
			MaxPlayers:           getEnvAsInt("ARENA_MAX_PLAYERS", 3),
			MinPlayers:           getEnvAsInt("ARENA_MIN_PLAYERS", 2),
			CountdownSeconds:     getEnvAsInt("ARENA_COUNTDOWN_SECONDS", 10),
			Duration:             getEnvAsDuration("ARENA_CONTEST_DURATION", 45*time.Minute),
			AllowRestartAfterEnd: getEnvAsBool("ARENA_ALLOW_RESTART", true),
		},
		Rooms: RoomsConfig{
			IdleTTL:       getEnvAsDuration("ARENA_ROOM_IDLE_TTL", 0),
			SweepInterval: getEnvAsDuration("ARENA_SWEEP_INTERVAL", time.Minute),
			InboxSize:     getEnvAsInt("ARENA_INBOX_SIZE", 1024),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("ARENA_NATS_URL"),
			StreamName:    getEnv("ARENA_NATS_STREAM", "ARENA_EVENTS"),
			SubjectPrefix: getEnv("ARENA_NATS_SUBJECT_PREFIX", "arena.rooms"),
		},
		Identity: IdentityConfig{
			RequireToken: getEnvAsBool("ARENA_REQUIRE_TOKEN", false),
		},
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate rejects settings the coordinator cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Contest.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("max_players must be positive, got %d", c.Contest.MaxPlayers))
	}
	if c.Contest.MinPlayers <= 0 || c.Contest.MinPlayers > c.Contest.MaxPlayers {
		errs = append(errs, fmt.Errorf("min_players must be in 1..%d, got %d", c.Contest.MaxPlayers, c.Contest.MinPlayers))
	}
	if c.Contest.CountdownSeconds < 0 {
		errs = append(errs, fmt.Errorf("countdown_seconds must not be negative, got %d", c.Contest.CountdownSeconds))
	}
	if c.Contest.Duration <= 0 {
		errs = append(errs, fmt.Errorf("contest duration must be positive, got %s", c.Contest.Duration))
	}
	if c.Rooms.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("idle_ttl must not be negative, got %s", c.Rooms.IdleTTL))
	}
	if c.Rooms.IdleTTL > 0 && c.Rooms.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive when idle_ttl is set, got %s", c.Rooms.SweepInterval))
	}
	if c.Rooms.InboxSize <= 0 {
		errs = append(errs, fmt.Errorf("inbox_size must be positive, got %d", c.Rooms.InboxSize))
	}
	if c.NATS.URL != "" && (c.NATS.StreamName == "" || c.NATS.SubjectPrefix == "") {
		errs = append(errs, errors.New("nats stream_name and subject_prefix are required when url is set"))
	}
	if c.Identity.RequireToken && len(c.Identity.Tokens) == 0 {
		errs = append(errs, errors.New("identity tokens are required when require_token is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
