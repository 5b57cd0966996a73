package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreEtcd   = "etcd"

	PingModeExec   = "exec"
	PingModeNative = "native"

	UnknownProtocolAbort = "abort"
	UnknownProtocolSkip  = "skip"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Source    SourceConfig    `mapstructure:"source"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Store     StoreConfig     `mapstructure:"store"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Server    ServerConfig    `mapstructure:"server"`
}

type AgentConfig struct {
	Name string `mapstructure:"name"`
}

type SourceConfig struct {
	Kind               string `mapstructure:"kind"`
	URL                string `mapstructure:"url"`
	Token              string `mapstructure:"token"`
	Timeout            int    `mapstructure:"timeout"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type SchedulerConfig struct {
	FetchInterval int    `mapstructure:"fetch_interval"`
	FetchCron     string `mapstructure:"fetch_cron"`
	StartInterval int    `mapstructure:"start_interval"`
}

type ChecksConfig struct {
	DNSTimeout     int    `mapstructure:"dns_timeout"`
	PingTimeout    int    `mapstructure:"ping_timeout"`
	HTTPTimeout    int    `mapstructure:"http_timeout"`
	PingCount      int    `mapstructure:"ping_count"`
	PingMode       string `mapstructure:"ping_mode"`
	PingBinary     string `mapstructure:"ping_binary"`
	PingPrivileged bool   `mapstructure:"ping_privileged"`
	HTTPMaxBody    int64  `mapstructure:"http_max_body"`
}

type PipelineConfig struct {
	UnknownProtocol string `mapstructure:"unknown_protocol"`
	StageTimeout    int    `mapstructure:"stage_timeout"`
}

type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
	Etcd   EtcdConfig  `mapstructure:"etcd"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

type EtcdConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	Prefix      string   `mapstructure:"prefix"`
	DialTimeout int      `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Brokers []string    `mapstructure:"brokers"`
	Group   string      `mapstructure:"group"`
	Topics  KafkaTopics `mapstructure:"topics"`
}

type KafkaTopics struct {
	Jobs    string `mapstructure:"jobs"`
	Results string `mapstructure:"results"`
	Logs    string `mapstructure:"logs"`
}

type ServerConfig struct {
	HealthPort string `mapstructure:"health_port"`
}

// Load reads defaults, an optional yaml file and the environment, in that
// order of precedence. An empty path searches ./config/local.yaml and ./local.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("local")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Agent defaults
	v.SetDefault("env", "local")
	v.SetDefault("agent.name", "sbe-monitor-01")

	// Job source defaults
	v.SetDefault("source.kind", SourceHTTP)
	v.SetDefault("source.url", "http://localhost:8000")
	v.SetDefault("source.token", "")
	v.SetDefault("source.timeout", 10)
	v.SetDefault("source.insecure_skip_verify", true)

	// Scheduler defaults
	v.SetDefault("scheduler.fetch_interval", 5)
	v.SetDefault("scheduler.fetch_cron", "")
	v.SetDefault("scheduler.start_interval", 1)

	// Checks defaults
	v.SetDefault("checks.dns_timeout", 5)
	v.SetDefault("checks.ping_timeout", 10)
	v.SetDefault("checks.http_timeout", 10)
	v.SetDefault("checks.ping_count", 5)
	v.SetDefault("checks.ping_mode", PingModeExec)
	v.SetDefault("checks.ping_binary", "ping")
	v.SetDefault("checks.ping_privileged", false)
	v.SetDefault("checks.http_max_body", 1<<20)

	// Pipeline defaults
	v.SetDefault("pipeline.unknown_protocol", UnknownProtocolAbort)
	v.SetDefault("pipeline.stage_timeout", 30)

	// Store defaults
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.redis.addr", "redis://localhost:6379")
	v.SetDefault("store.redis.key", "sbe-monitor:jobs")
	v.SetDefault("store.etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("store.etcd.prefix", "/sbe-monitor/jobs/")
	v.SetDefault("store.etcd.dial_timeout", 5)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group", "sbe-monitor")
	v.SetDefault("kafka.topics.jobs", "monitor-jobs")
	v.SetDefault("kafka.topics.results", "monitor-results")
	v.SetDefault("kafka.topics.logs", "monitor-logs")

	// Server defaults
	v.SetDefault("server.health_port", "8081")
}

func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceHTTP:
		if strings.TrimSpace(c.Source.URL) == "" {
			return errors.New("source.url is required")
		}
	case SourceKafka:
		if !c.Kafka.Enabled {
			return errors.New("source.kind=kafka requires kafka.enabled")
		}
		if strings.TrimSpace(c.Source.URL) == "" {
			return errors.New("source.url is required for reporting")
		}
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}

	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StoreEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			return errors.New("store.etcd.endpoints is required for the etcd store")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Checks.PingMode {
	case PingModeExec, PingModeNative:
	default:
		return fmt.Errorf("unknown checks.ping_mode %q", c.Checks.PingMode)
	}

	switch c.Pipeline.UnknownProtocol {
	case UnknownProtocolAbort, UnknownProtocolSkip:
	default:
		return fmt.Errorf("unknown pipeline.unknown_protocol %q", c.Pipeline.UnknownProtocol)
	}

	if c.Scheduler.FetchInterval <= 0 || c.Scheduler.StartInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}

	if c.Scheduler.FetchCron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.FetchCron); err != nil {
			return fmt.Errorf("invalid scheduler.fetch_cron %q: %w", c.Scheduler.FetchCron, err)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}

	return nil
}

func (c *Config) GetSourceTimeout() time.Duration {
	return time.Duration(c.Source.Timeout) * time.Second
}

func (c *Config) GetFetchInterval() time.Duration {
	return time.Duration(c.Scheduler.FetchInterval) * time.Second
}

func (c *Config) GetStartInterval() time.Duration {
	return time.Duration(c.Scheduler.StartInterval) * time.Second
}

func (c *Config) GetDNSTimeout() time.Duration {
	return time.Duration(c.Checks.DNSTimeout) * time.Second
}

func (c *Config) GetPingTimeout() time.Duration {
	return time.Duration(c.Checks.PingTimeout) * time.Second
}

func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.Checks.HTTPTimeout) * time.Second
}

func (c *Config) GetEtcdDialTimeout() time.Duration {
	return time.Duration(c.Store.Etcd.DialTimeout) * time.Second
}

func (c *Config) GetStageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeout) * time.Second
}
