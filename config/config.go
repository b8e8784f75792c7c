// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Debug      bool   `yaml:"debug"`
	LogFormat  string `yaml:"log_format"`

	Baserow BaserowConfig `yaml:"baserow"`
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Publish PublishConfig `yaml:"publish"`

	WebhookSecret string `yaml:"webhook_secret"`
}

type BaserowConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	RowsCacheTTL     time.Duration `yaml:"rows_cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
	Channel          string        `yaml:"channel"`
}

type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	PreferencesTable string `yaml:"preferences_table"`
	EventsQueue      string `yaml:"events_queue"`
	SQLitePath       string `yaml:"sqlite_path"`
	Provision        bool   `yaml:"provision"`
}

type AuthConfig struct {
	Domain   string `yaml:"domain"`
	Audience string `yaml:"audience"`
	TestMode bool   `yaml:"test_mode"`
}

type PublishConfig struct {
	Workers        int           `yaml:"workers"`
	Buffer         int           `yaml:"buffer"`
	Timeout        time.Duration `yaml:"timeout"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogFormat:  "text",
		Baserow: BaserowConfig{
			URL:     "https://api.baserow.io",
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			RowsCacheTTL: 5 * time.Minute,
			DeduperTTL:   24 * time.Hour,
		},
		Storage: StorageConfig{
			PreferencesTable: "GanttPreferences",
			Provision:        true,
		},
		Publish: PublishConfig{
			Workers:        4,
			Buffer:         64,
			Timeout:        30 * time.Second,
			HandoffTimeout: 50 * time.Millisecond,
		},
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("invalid %s: must be a non-negative integer", key))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("invalid %s: %q", key, v))
				return
			}
			*dst = d
		}
	}

	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.ListenAddr = ":" + port
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	boolean("DEBUG", &c.Debug)
	str("LOG_FORMAT", &c.LogFormat)

	str("BASEROW_URL", &c.Baserow.URL)
	str("BASEROW_TOKEN", &c.Baserow.Token)
	duration("BASEROW_TIMEOUT", &c.Baserow.Timeout)
	str("WEBHOOK_SECRET", &c.WebhookSecret)

	str("REDIS_CONNECTION_STRING", &c.Redis.ConnectionString)
	duration("ROWS_CACHE_TTL", &c.Redis.RowsCacheTTL)
	duration("DEDUPER_TTL", &c.Redis.DeduperTTL)
	str("REVALIDATION_CHANNEL", &c.Redis.Channel)

	str("STORAGE_CONNECTION_STRING", &c.Storage.ConnectionString)
	str("PREFERENCES_TABLE", &c.Storage.PreferencesTable)
	str("EVENTS_QUEUE", &c.Storage.EventsQueue)
	str("PREFERENCES_SQLITE_PATH", &c.Storage.SQLitePath)
	boolean("STORAGE_PROVISION", &c.Storage.Provision)

	str("AUTH0_DOMAIN", &c.Auth.Domain)
	str("AUTH0_AUDIENCE", &c.Auth.Audience)
	if v, ok := lookup("AUTH0_TEST_MODE"); ok {
		c.Auth.TestMode = v == "1"
	}

	integer("PUBLISH_WORKERS", &c.Publish.Workers)
	integer("PUBLISH_BUFFER", &c.Publish.Buffer)
	duration("PUBLISH_TIMEOUT", &c.Publish.Timeout)
	duration("PUBLISH_HANDOFF_TIMEOUT", &c.Publish.HandoffTimeout)

	return errors.Join(errs...)
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if (c.Auth.Domain == "") != (c.Auth.Audience == "") {
		errs = append(errs, errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together"))
	}
	if c.Storage.EventsQueue != "" && c.Storage.ConnectionString == "" {
		errs = append(errs, errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if c.Publish.Workers == 0 && c.Storage.EventsQueue != "" {
		errs = append(errs, errors.New("PUBLISH_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether user tokens scope preferences.
func (c Config) AuthEnabled() bool {
	return c.Auth.TestMode || c.Auth.Domain != ""
}

// RedisOptions parses a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "://") || strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
