package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Postgres       PostgresConfig       `mapstructure:"postgres"`
	Scylla         ScyllaConfig         `mapstructure:"scylla"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	Dispatcher     DispatcherConfig     `mapstructure:"dispatcher"`
	OperatingHours OperatingHoursConfig `mapstructure:"operating_hours"`
	Admission      AdmissionConfig      `mapstructure:"admission"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Builders       BuildersConfig       `mapstructure:"builders"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
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
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	OutcomeTopic    string        `mapstructure:"outcome_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
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
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DispatcherConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
	QueueBatchSize     int           `mapstructure:"queue_batch_size"`
}

type OperatingHoursConfig struct {
	TimeZone   string   `mapstructure:"time_zone"`
	StartHour  int      `mapstructure:"start_hour"`
	EndHour    int      `mapstructure:"end_hour"`
	ClosedDays []string `mapstructure:"closed_days"`
}

type AdmissionConfig struct {
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	CooldownPeriod time.Duration `mapstructure:"cooldown_period"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

type GatewayConfig struct {
	ProviderName   string        `mapstructure:"provider_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SuccessRate    float64       `mapstructure:"success_rate"`
}

type BuildersConfig struct {
	ReminderCron      string        `mapstructure:"reminder_cron"`
	FollowupCron      string        `mapstructure:"followup_cron"`
	ReminderLookAhead time.Duration `mapstructure:"reminder_look_ahead"`
	FollowupLookBack  time.Duration `mapstructure:"followup_look_back"`
	BatchSize         int           `mapstructure:"batch_size"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

// ClosedWeekdays parses the configured closed-day names. Unknown names are
// ignored; an empty list means the default Sunday closure.
func (c OperatingHoursConfig) ClosedWeekdays() []time.Weekday {
	if len(c.ClosedDays) == 0 {
		return []time.Weekday{time.Sunday}
	}
	names := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	var days []time.Weekday
	for _, name := range c.ClosedDays {
		if d, ok := names[strings.ToLower(name)]; ok {
			days = append(days, d)
		}
	}
	return days
}
