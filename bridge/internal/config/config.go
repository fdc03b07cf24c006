package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Firehose   FirehoseConfig   `mapstructure:"firehose"`
	BlockStore BlockStoreConfig `mapstructure:"blockstore"`
	Parser     ParserConfig     `mapstructure:"parser"`
	Listener   ListenerConfig   `mapstructure:"listener"`
	Engine     EngineConfig     `mapstructure:"engine"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Results    ResultsConfig    `mapstructure:"results"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Stats      StatsConfig      `mapstructure:"stats"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type FirehoseConfig struct {
	URL              string        `mapstructure:"url"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ClosedRetryDelay time.Duration `mapstructure:"closed_retry_delay"`
	ErrorRetryDelay  time.Duration `mapstructure:"error_retry_delay"`
}

type BlockStoreConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	EvictCount int `mapstructure:"evict_count"`
}

type ParserConfig struct {
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

type ListenerConfig struct {
	SummaryEvery  int `mapstructure:"summary_every"`
	FrameLogEvery int `mapstructure:"frame_log_every"`
}

// EngineConfig selects where attribute vectors go. Sink is "log" or "nats".
type EngineConfig struct {
	Sink          string `mapstructure:"sink"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// JetStream retains vectors on the events stream when the sink is nats.
	JetStream bool `mapstructure:"jetstream"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Token         string        `mapstructure:"token"`
}

// ResultsConfig controls the reverse path. Mode is "core" (queue group)
// or "jetstream" (durable consumer).
type ResultsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Mode     string `mapstructure:"mode"`
	Subject  string `mapstructure:"subject"`
	Queue    string `mapstructure:"queue"`
	Consumer string `mapstructure:"consumer"`
	Print    bool   `mapstructure:"print"`
}

type OpenSearchConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLSSkipVerify   bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix     string `mapstructure:"index_prefix"`
	ShardCount      int    `mapstructure:"shard_count"`
	ReplicaCount    int    `mapstructure:"replica_count"`
	RefreshInterval string `mapstructure:"refresh_interval"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type StatsConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type DLQConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("firehose.url", "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos")
	v.SetDefault("firehose.read_limit", 4<<20)
	v.SetDefault("firehose.handshake_timeout", "45s")
	v.SetDefault("firehose.read_timeout", "30s")
	v.SetDefault("firehose.ping_interval", "20s")
	v.SetDefault("firehose.closed_retry_delay", "5s")
	v.SetDefault("firehose.error_retry_delay", "15s")
	v.SetDefault("blockstore.max_entries", 15000)
	v.SetDefault("blockstore.evict_count", 7500)
	v.SetDefault("parser.max_line_bytes", 65536)
	v.SetDefault("listener.summary_every", 100)
	v.SetDefault("listener.frame_log_every", 1000)
	v.SetDefault("engine.sink", "log")
	v.SetDefault("engine.subject_prefix", "")
	v.SetDefault("engine.jetstream", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "skybridge")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("results.enabled", false)
	v.SetDefault("results.mode", "core")
	v.SetDefault("results.subject", "skybridge.engine.results.>")
	v.SetDefault("results.queue", "results-workers")
	v.SetDefault("results.consumer", "skybridge-results")
	v.SetDefault("results.print", false)
	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "skybridge-complex-events")
	v.SetDefault("opensearch.shard_count", 1)
	v.SetDefault("opensearch.replica_count", 0)
	v.SetDefault("opensearch.refresh_interval", "5s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("stats.flush_interval", "30s")
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9464)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/skybridge")
	}

	// Environment variables override, e.g. SKYBRIDGE_FIREHOSE_URL
	v.SetEnvPrefix("SKYBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Firehose.URL == "" {
		errs = append(errs, errors.New("firehose.url is required"))
	}
	if c.BlockStore.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("blockstore.max_entries must be positive, got %d", c.BlockStore.MaxEntries))
	}
	if c.BlockStore.EvictCount <= 0 {
		errs = append(errs, fmt.Errorf("blockstore.evict_count must be positive, got %d", c.BlockStore.EvictCount))
	}
	if c.BlockStore.EvictCount > c.BlockStore.MaxEntries {
		errs = append(errs, fmt.Errorf("blockstore.evict_count (%d) exceeds max_entries (%d)",
			c.BlockStore.EvictCount, c.BlockStore.MaxEntries))
	}
	if c.Parser.MaxLineBytes <= 0 {
		errs = append(errs, fmt.Errorf("parser.max_line_bytes must be positive, got %d", c.Parser.MaxLineBytes))
	}

	switch c.Engine.Sink {
	case "log", "nats":
	default:
		errs = append(errs, fmt.Errorf("engine.sink must be log or nats, got %q", c.Engine.Sink))
	}

	if c.Results.Enabled {
		switch c.Results.Mode {
		case "core", "jetstream":
		default:
			errs = append(errs, fmt.Errorf("results.mode must be core or jetstream, got %q", c.Results.Mode))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port))
	}

	if c.Stats.FlushInterval <= 0 && c.Redis.Enabled {
		errs = append(errs, errors.New("stats.flush_interval must be positive when redis is enabled"))
	}

	return errors.Join(errs...)
}

// UsesNATS reports whether any enabled component needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.Engine.Sink == "nats" || c.Results.Enabled || c.DLQ.Enabled
}
