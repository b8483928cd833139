package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Scylla       ScyllaConfig       `mapstructure:"scylla"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Telephony    TelephonyConfig    `mapstructure:"telephony"`
	Payment      PaymentConfig      `mapstructure:"payment"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StorageConfig selects the session store backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	InitSchema      bool          `mapstructure:"init_schema"`
}

type ScyllaConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
	AttemptTTL        time.Duration `mapstructure:"attempt_ttl"`
}

type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	ClientID          string        `mapstructure:"client_id"`
	RequestTopic      string        `mapstructure:"request_topic"`
	EventTopic        string        `mapstructure:"event_topic"`
	NotificationTopic string        `mapstructure:"notification_topic"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id"`
	CommitInterval    time.Duration `mapstructure:"commit_interval"`
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OrchestratorConfig holds the call-sequencing constants.
type OrchestratorConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	ConnectionWait     time.Duration `mapstructure:"connection_wait"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MinCallDuration    time.Duration `mapstructure:"min_call_duration"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
	QueueDrainInterval time.Duration `mapstructure:"queue_drain_interval"`
	MaxStartDelay      int           `mapstructure:"max_start_delay_minutes"`
	DelayUnit          time.Duration `mapstructure:"delay_unit"`
	RetryBackoffBase   time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffStep   time.Duration `mapstructure:"retry_backoff_step"`
	StoreRetryAttempts int           `mapstructure:"store_retry_attempts"`
	StoreRetryBackoff  time.Duration `mapstructure:"store_retry_backoff"`
	LeaseTTL           time.Duration `mapstructure:"lease_ttl"`
}

// WithDefaults fills every unset value with the production constant.
func (c OrchestratorConfig) WithDefaults() OrchestratorConfig {
	out := c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	if out.ConnectionWait <= 0 {
		out.ConnectionWait = 45 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 3 * time.Second
	}
	if out.MinCallDuration <= 0 {
		out.MinCallDuration = 120 * time.Second
	}
	if out.MaxConcurrentCalls <= 0 {
		out.MaxConcurrentCalls = 50
	}
	if out.QueueDrainInterval <= 0 {
		out.QueueDrainInterval = 2 * time.Second
	}
	if out.MaxStartDelay <= 0 {
		out.MaxStartDelay = 10
	}
	if out.DelayUnit <= 0 {
		out.DelayUnit = time.Minute
	}
	if out.RetryBackoffBase <= 0 {
		out.RetryBackoffBase = 15 * time.Second
	}
	if out.RetryBackoffStep <= 0 {
		out.RetryBackoffStep = 5 * time.Second
	}
	if out.StoreRetryAttempts <= 0 {
		out.StoreRetryAttempts = 3
	}
	if out.StoreRetryBackoff <= 0 {
		out.StoreRetryBackoff = 200 * time.Millisecond
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = 30 * time.Second
	}
	return out
}

// TelephonyConfig configures the outbound call provider.
type TelephonyConfig struct {
	Provider        string        `mapstructure:"provider"`
	BaseURL         string        `mapstructure:"base_url"`
	AccountSID      string        `mapstructure:"account_sid"`
	AuthToken       string        `mapstructure:"auth_token"`
	FromNumber      string        `mapstructure:"from_number"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RecordCalls     bool          `mapstructure:"record_calls"`
	Mock            MockTelephony `mapstructure:"mock"`
}

// MockTelephony tunes the simulated provider used in development.
type MockTelephony struct {
	AnswerRate float64       `mapstructure:"answer_rate"`
	RingDelay  time.Duration `mapstructure:"ring_delay"`
	TalkTime   time.Duration `mapstructure:"talk_time"`
}

// PaymentConfig configures the payment-hold provider.
type PaymentConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("CALLSESSION")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}
	cfg.Orchestrator = cfg.Orchestrator.WithDefaults()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "call-session-orchestrator")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("kafka.request_topic", "call-session-requests")
	v.SetDefault("kafka.event_topic", "call-session-events")
	v.SetDefault("kafka.notification_topic", "call-session-notifications")
	v.SetDefault("kafka.consumer_group_id", "call-session-orchestrator")
	v.SetDefault("kafka.partitions", 12)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("redis.key_prefix", "callsession")
	v.SetDefault("scylla.attempt_ttl", 30*24*time.Hour)
	v.SetDefault("telephony.provider", "mock")
	v.SetDefault("telephony.request_timeout", 10*time.Second)
	v.SetDefault("telephony.mock.answer_rate", 0.9)
	v.SetDefault("telephony.mock.ring_delay", 2*time.Second)
	v.SetDefault("telephony.mock.talk_time", 150*time.Second)
	v.SetDefault("payment.provider", "mock")
	v.SetDefault("payment.request_timeout", 10*time.Second)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
