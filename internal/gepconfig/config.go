// Package gepconfig implements YAML-configured producer/consumer parameters
// with fsnotify hot-reload, generalizing the teacher's config-reload posture
// (fsnotify was already a direct teacher dependency) from S3-gateway
// settings to group encryption protocol parameters.
package gepconfig

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProducerConfig configures one producer engine instance (spec.md §4.5).
type ProducerConfig struct {
	Prefix            string   `yaml:"prefix"`
	DataType          string   `yaml:"data_type"`
	MaxRepeatAttempts int      `yaml:"max_repeat_attempts"`
	Link              []string `yaml:"link,omitempty"`
}

// ConsumerConfig configures one consumer engine instance (spec.md §4.6).
type ConsumerConfig struct {
	GroupName    string   `yaml:"group_name"`
	ConsumerName string   `yaml:"consumer_name"`
	RetryCount   int      `yaml:"retry_count"`
	CKeyLink     []string `yaml:"c_key_link,omitempty"`
	DKeyLink     []string `yaml:"d_key_link,omitempty"`
}

// RedisConfig configures the Redis key-database backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// S3Config configures the S3-compatible key-database backend.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// KeyDatabaseConfig selects and configures a gepkeydb.Backend.
type KeyDatabaseConfig struct {
	// Backend is one of "memory", "redis", "s3".
	Backend string       `yaml:"backend"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
	S3      *S3Config    `yaml:"s3,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	Producer    ProducerConfig    `yaml:"producer"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	KeyDatabase KeyDatabaseConfig `yaml:"key_database"`
}

// defaults fills in unset fields: a producer retry budget of 3, the
// consumer's per-interest default of 1 retry (spec.md §5), and the
// in-memory key database backend.
func (c *Config) applyDefaults() {
	if c.Producer.MaxRepeatAttempts == 0 {
		c.Producer.MaxRepeatAttempts = 3
	}
	if c.Consumer.RetryCount == 0 {
		c.Consumer.RetryCount = 1
	}
	if c.KeyDatabase.Backend == "" {
		c.KeyDatabase.Backend = "memory"
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Store holds the current Config and is safe for concurrent reads from
// engine code while a Watcher replaces it on reload.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an initial Config.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current Config.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
