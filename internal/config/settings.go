package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/taleforge/supportsync/internal/transport"
)

// SettingsFile is the settings file name inside Dir().
const SettingsFile = "settings.yaml"

// Store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Settings tune the engine. Durations are Go duration strings in YAML.
type Settings struct {
	Store StoreSettings  `yaml:"store"`
	Conn  ConnSettings   `yaml:"connection"`
	Notif NotifySettings `yaml:"notifications"`
}

// StoreSettings select where the active conversation id is persisted.
type StoreSettings struct {
	Backend string `yaml:"backend"`
	// Dir overrides the file store directory.
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// RedisTTL expires the stored id; zero keeps it forever.
	RedisTTL Duration `yaml:"redis_ttl"`
}

type ConnSettings struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	PingTimeout    Duration `yaml:"ping_timeout"`
	Heartbeat      Duration `yaml:"heartbeat"`
}

type NotifySettings struct {
	Sound  bool `yaml:"sound"`
	Toasts bool `yaml:"toasts"`
}

// Duration unmarshals from a duration string such as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Store: StoreSettings{Backend: StoreFile, RedisAddr: "localhost:6379"},
		Conn: ConnSettings{
			InitialBackoff: Duration(transport.DefaultInitialBackoff),
			MaxBackoff:     Duration(transport.DefaultMaxBackoff),
			Heartbeat:      Duration(transport.DefaultHeartbeat),
		},
		Notif: NotifySettings{Sound: true, Toasts: true},
	}
}

// Validate checks the settings for values the engine cannot use.
func (s Settings) Validate() error {
	switch s.Store.Backend {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(s.Store.RedisAddr) == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be file, redis or memory, got %q", s.Store.Backend)
	}
	if s.Store.RedisTTL < 0 {
		return errors.New("store.redis_ttl must not be negative")
	}
	if s.Conn.InitialBackoff < 0 || s.Conn.MaxBackoff < 0 || s.Conn.PingTimeout < 0 || s.Conn.Heartbeat < 0 {
		return errors.New("connection durations must not be negative")
	}
	if s.Conn.MaxBackoff > 0 && s.Conn.InitialBackoff > s.Conn.MaxBackoff {
		return errors.New("connection.initial_backoff must not exceed connection.max_backoff")
	}
	return nil
}

// TransportConfig copies the connection settings into a transport config.
func (s Settings) TransportConfig(cfg transport.Config) transport.Config {
	cfg.InitialBackoff = s.Conn.InitialBackoff.Std()
	cfg.MaxBackoff = s.Conn.MaxBackoff.Std()
	cfg.PingTimeout = s.Conn.PingTimeout.Std()
	cfg.Heartbeat = s.Conn.Heartbeat.Std()
	return cfg
}

// Dir returns the config directory: SUPPORTSYNC_CONFIG_DIR, or
// supportsync under the user config dir.
func Dir() (string, error) {
	if dir := firstNonBlankEnv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	base, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, serviceName), nil
}

// LoadSettings reads settings.yaml from dir. A missing file yields the
// defaults; keys absent from the file keep their default values.
func LoadSettings(dir string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(filepath.Join(dir, SettingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("validating settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes s to dir, creating it if needed.
func SaveSettings(dir string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SettingsFile), data, 0o600)
}

// LoadDotEnv loads dir/.env into the process environment. Variables that
// are already exported keep their values. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
