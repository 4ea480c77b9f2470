package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Redis       RedisConfig       `toml:"redis"`
	Mongo       MongoConfig       `toml:"mongo"`
	NATS        NATSConfig        `toml:"nats"`
	Agent       AgentConfig       `toml:"agent"`
	Heartbeat   HeartbeatConfig   `toml:"heartbeat"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	LLM     LLMConfig     `toml:"llm"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// LLMConfig contains API keys and endpoints for the chat model providers.
type LLMConfig struct {
	OpenRouterAPIKey  string `toml:"openrouter_api_key"`
	GeminiAPIKey      string `toml:"gemini_api_key"`
	OpenRouterBaseURL string `toml:"openrouter_base_url"`
	GeminiBaseURL     string `toml:"gemini_base_url"`
	DefaultModel      string `toml:"default_model"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig configures the shared conversation checkpoint and response cache store.
//
// An empty URL keeps both in process memory.
type RedisConfig struct {
	URL           string   `toml:"url"`
	CacheTTL      Duration `toml:"cache_ttl"`
	CheckpointTTL Duration `toml:"checkpoint_ttl"`
}

// MongoConfig selects the document store for chats and notes. An empty URL uses SQLite.
type MongoConfig struct {
	URL      string `toml:"url"`
	Database string `toml:"database"`
}

// NATSConfig selects NATS as the event transport. An empty URL uses the in-process bus.
type NATSConfig struct {
	URL string `toml:"url"`
}

// AgentConfig tunes the conversational agent.
type AgentConfig struct {
	MaxSteps       int  `toml:"max_steps"`
	CacheResponses bool `toml:"cache_responses"`
}

// HeartbeatConfig controls when devices are considered offline.
type HeartbeatConfig struct {
	Timeout       Duration `toml:"timeout"`
	SweepSchedule string   `toml:"sweep_schedule"`
}

// Duration wraps [time.Duration] so it can be written as "60s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidConfig, text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// envOverrides maps environment variables onto config fields.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"OPENROUTER_API_KEY":    &c.Credentials.LLM.OpenRouterAPIKey,
		"GEMINI_API_KEY":        &c.Credentials.LLM.GeminiAPIKey,
		"SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"REDIS_URL":             &c.Redis.URL,
		"MONGO_URL":             &c.Mongo.URL,
		"NATS_URL":              &c.NATS.URL,
		"PIHOME_DB_PATH":        &c.Database.Path,
	}
}

// ApplyEnv loads the given dotenv files (a missing file is not an error) and overlays any
// non-empty environment variables onto the config.
func (c *Config) ApplyEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	for key, field := range c.envOverrides() {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
	return nil
}
