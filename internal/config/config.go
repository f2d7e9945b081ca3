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

// Config holds all application configuration.
type Config struct {
	Fenotek FenotekConfig `yaml:"fenotek"`
	Refresh RefreshConfig `yaml:"refresh"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// FenotekConfig holds the cloud account configuration.
type FenotekConfig struct {
	APIBase           string        `yaml:"api_base"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Timezone          string        `yaml:"timezone"`
	NotificationPages int           `yaml:"notification_pages"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// RefreshConfig holds the polling interval and its bounds.
type RefreshConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Fenotek: FenotekConfig{
			APIBase:           "https://backend.fenotek.net",
			Timezone:          "Europe/Paris",
			NotificationPages: 1,
			RequestTimeout:    30 * time.Second,
		},
		Refresh: RefreshConfig{
			Interval:    20 * time.Second,
			MinInterval: time.Second,
			MaxInterval: 120 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		MQTT: MQTTConfig{
			ClientID:        "fenotekd",
			TopicPrefix:     "fenotek",
			DiscoveryPrefix: "homeassistant",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings the daemon cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.Fenotek.Username == "" {
		errs = append(errs, errors.New("fenotek.username is required"))
	}
	if c.Fenotek.Password == "" {
		errs = append(errs, errors.New("fenotek.password is required"))
	}
	if c.Fenotek.NotificationPages < 1 {
		errs = append(errs, errors.New("fenotek.notification_pages must be at least 1"))
	}
	r := c.Refresh
	if r.MinInterval <= 0 {
		errs = append(errs, errors.New("refresh.min_interval must be positive"))
	}
	if r.MaxInterval < r.MinInterval {
		errs = append(errs, fmt.Errorf("refresh.max_interval %s is below min_interval %s", r.MaxInterval, r.MinInterval))
	}
	if r.Interval < r.MinInterval || r.Interval > r.MaxInterval {
		errs = append(errs, fmt.Errorf("refresh.interval %s is outside [%s, %s]", r.Interval, r.MinInterval, r.MaxInterval))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("FENOTEK_API_BASE"); v != "" {
		cfg.Fenotek.APIBase = v
	}
	if v := os.Getenv("FENOTEK_USERNAME"); v != "" {
		cfg.Fenotek.Username = v
	}
	if v := os.Getenv("FENOTEK_PASSWORD"); v != "" {
		cfg.Fenotek.Password = v
	}
	if v := os.Getenv("FENOTEK_TIMEZONE"); v != "" {
		cfg.Fenotek.Timezone = v
	}
	if v := os.Getenv("FENOTEK_NOTIFICATION_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: FENOTEK_NOTIFICATION_PAGES: %w", err)
		}
		cfg.Fenotek.NotificationPages = n
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"FENOTEK_REQUEST_TIMEOUT", &cfg.Fenotek.RequestTimeout},
		{"FENOTEK_REFRESH_INTERVAL", &cfg.Refresh.Interval},
		{"FENOTEK_REFRESH_MIN_INTERVAL", &cfg.Refresh.MinInterval},
		{"FENOTEK_REFRESH_MAX_INTERVAL", &cfg.Refresh.MaxInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("FENOTEK_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = parseBool(v)
	}
	if v := os.Getenv("FENOTEK_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("FENOTEK_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("FENOTEK_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("FENOTEK_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("FENOTEK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("FENOTEK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("FENOTEK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("FENOTEK_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("FENOTEK_MQTT_DISCOVERY_PREFIX"); v != "" {
		cfg.MQTT.DiscoveryPrefix = v
	}
	if v := os.Getenv("FENOTEK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FENOTEK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// parseDuration accepts Go durations ("20s") and bare seconds ("20").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
