// Package config loads service settings from an optional YAML file with
// environment overrides, and reloads them when the file changes.
package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

type CoverageConfig struct {
	RadiusM     float64 `mapstructure:"radius_m"`
	SaveRetries int     `mapstructure:"save_retries"`
}

type RateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type StreamConfig struct {
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// WebhookConfig posts signed events to URL when set. Events limits the
// types sent; WEBHOOK_EVENTS takes a comma separated list.
type WebhookConfig struct {
	URL         string   `mapstructure:"url"`
	Secret      string   `mapstructure:"secret"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	Events      []string `mapstructure:"events"`
}

// Config holds entire config
type Config struct {
	Port        string         `mapstructure:"port"`
	DatabaseURL string         `mapstructure:"database_url"`
	DBMigrate   bool           `mapstructure:"db_migrate"`
	RedisURL    string         `mapstructure:"redis_url"`
	AMQPURL     string         `mapstructure:"amqp_url"`
	MQTT        MQTTConfig     `mapstructure:"mqtt"`
	Coverage    CoverageConfig `mapstructure:"coverage"`
	Rate        RateConfig     `mapstructure:"rate"`
	Stream      StreamConfig   `mapstructure:"stream"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
}

var defaults = map[string]any{
	"port":                     "8080",
	"database_url":             "",
	"db_migrate":               true,
	"redis_url":                "",
	"amqp_url":                 "",
	"mqtt.broker":              "",
	"mqtt.client_id":           "wastetrack-api",
	"mqtt.topic":               "wastetrack/assignments/+/position",
	"coverage.radius_m":        50.0,
	"coverage.save_retries":    3,
	"rate.rps":                 5.0,
	"rate.burst":               10,
	"stream.heartbeat":         "15s",
	"stream.snapshot_interval": "30s",
	"webhook.url":              "",
	"webhook.secret":           "",
	"webhook.max_attempts":     10,
	"webhook.events":           []string{},
}

// Loader owns the viper instance and the latest decoded Config.
type Loader struct {
	v    *viper.Viper
	file string

	mu  sync.RWMutex
	cur Config
}

// Load reads path (or CONFIG_FILE, or ./config.yaml when present) and
// applies environment overrides: mqtt.broker is MQTT_BROKER and so on.
func Load(path string) (*Loader, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	l := &Loader{v: v, file: path}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cur = cfg
	return l, nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Coverage.RadiusM <= 0 {
		return Config{}, errors.New("coverage.radius_m must be positive")
	}
	return cfg, nil
}

// Current returns the latest configuration in a thread-safe way.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// File is the config file in use, empty when running from env only.
func (l *Loader) File() string { return l.file }

// Watch calls fn with each valid configuration read after the file changes.
// It is a no-op without a config file.
func (l *Loader) Watch(fn func(Config)) {
	if l.file == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Printf("config reload %s: %v", e.Name, err)
			return
		}
		l.mu.Lock()
		l.cur = cfg
		l.mu.Unlock()
		log.Printf("config reloaded from %s", e.Name)
		if fn != nil {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}
