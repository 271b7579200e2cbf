package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Snapshot backends
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"server"`

	Book struct {
		Name               string `yaml:"name"`
		AmendToZeroCancels bool   `yaml:"amend_to_zero_cancels"`
	} `yaml:"book"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		EventsTopic  string   `yaml:"events_topic"`
		Partition    int32    `yaml:"partition"`
		FromOldest   bool     `yaml:"from_oldest"`
		UpdatesTopic string   `yaml:"updates_topic"`
	} `yaml:"kafka"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Snapshot struct {
		Backend  string        `yaml:"backend"`
		Interval time.Duration `yaml:"interval"`
		Dir      string        `yaml:"dir"`
		History  int           `yaml:"history"`
	} `yaml:"snapshot"`

	Telemetry struct {
		Enabled        bool          `yaml:"enabled"`
		Endpoint       string        `yaml:"endpoint"`
		ServiceVersion string        `yaml:"service_version"`
		MetricInterval time.Duration `yaml:"metric_interval"`
	} `yaml:"telemetry"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	config := &Config{}
	config.Server.LogLevel = "info"
	config.Server.LogFormat = "pretty"
	config.Book.Name = "BTC-USD"
	config.Kafka.Brokers = []string{"localhost:9092"}
	config.Kafka.EventsTopic = "lobook-events"
	config.Kafka.UpdatesTopic = "lobook-updates"
	config.Redis.Addr = "localhost:6379"
	config.Redis.Prefix = "lobook"
	config.Snapshot.Backend = BackendMemory
	config.Snapshot.Interval = 30 * time.Second
	config.Snapshot.Dir = "data/snapshots"
	config.Snapshot.History = 8
	config.Telemetry.Endpoint = "localhost:4317"
	config.Telemetry.ServiceVersion = "0.1.0"
	config.Telemetry.MetricInterval = 5 * time.Second
	return config
}

// LoadConfig loads the configuration from command line flags, an optional
// YAML file and LOBOOK_* environment variables, in increasing precedence
func LoadConfig() (*Config, error) {
	return Load(os.Args[0], os.Args[1:])
}

// Load is LoadConfig over an explicit argument list
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file (YAML)")
	logLevel := fs.String("log_level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log_format", "", "Log format: json, pretty")
	book := fs.String("book", "", "Book (instrument) name")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config := Default()

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// flags given explicitly beat the file
	if *logLevel != "" {
		config.Server.LogLevel = *logLevel
	}
	if *logFormat != "" {
		config.Server.LogFormat = *logFormat
	}
	if *book != "" {
		config.Book.Name = *book
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnv overrides config with the LOBOOK_* variables that are set
func applyEnv(config *Config) error {
	v := viper.New()
	v.SetEnvPrefix("LOBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	keys := []string{
		"server.log_level", "server.log_format",
		"book.name", "book.amend_to_zero_cancels",
		"kafka.brokers", "kafka.events_topic", "kafka.partition", "kafka.from_oldest", "kafka.updates_topic",
		"redis.addr", "redis.password", "redis.db", "redis.prefix",
		"snapshot.backend", "snapshot.interval", "snapshot.dir", "snapshot.history",
		"telemetry.enabled", "telemetry.endpoint", "telemetry.service_version", "telemetry.metric_interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	setString("server.log_level", &config.Server.LogLevel)
	setString("server.log_format", &config.Server.LogFormat)
	setString("book.name", &config.Book.Name)
	setBool("book.amend_to_zero_cancels", &config.Book.AmendToZeroCancels)

	if v.IsSet("kafka.brokers") {
		config.Kafka.Brokers = splitList(v.GetString("kafka.brokers"))
	}
	setString("kafka.events_topic", &config.Kafka.EventsTopic)
	if v.IsSet("kafka.partition") {
		config.Kafka.Partition = v.GetInt32("kafka.partition")
	}
	setBool("kafka.from_oldest", &config.Kafka.FromOldest)
	setString("kafka.updates_topic", &config.Kafka.UpdatesTopic)

	setString("redis.addr", &config.Redis.Addr)
	setString("redis.password", &config.Redis.Password)
	setInt("redis.db", &config.Redis.DB)
	setString("redis.prefix", &config.Redis.Prefix)

	setString("snapshot.backend", &config.Snapshot.Backend)
	setDuration("snapshot.interval", &config.Snapshot.Interval)
	setString("snapshot.dir", &config.Snapshot.Dir)
	setInt("snapshot.history", &config.Snapshot.History)

	setBool("telemetry.enabled", &config.Telemetry.Enabled)
	setString("telemetry.endpoint", &config.Telemetry.Endpoint)
	setString("telemetry.service_version", &config.Telemetry.ServiceVersion)
	setDuration("telemetry.metric_interval", &config.Telemetry.MetricInterval)

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the daemon cannot run with
func (c *Config) Validate() error {
	if c.Book.Name == "" {
		return fmt.Errorf("book name must not be empty")
	}
	switch c.Server.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("log format must be json or pretty, got %q", c.Server.LogFormat)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Kafka.EventsTopic == "" {
		return fmt.Errorf("Kafka events topic must not be empty")
	}
	if c.Kafka.Partition < 0 {
		return fmt.Errorf("Kafka partition must not be negative")
	}

	switch c.Snapshot.Backend {
	case BackendNone:
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis snapshot backend needs a redis address")
		}
	case BackendPebble:
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("pebble snapshot backend needs a directory")
		}
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend != BackendNone && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint must not be empty when telemetry is enabled")
	}
	return nil
}
