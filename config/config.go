package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fllarpy/callprobe/profiling"
)

var ErrInvalid = errors.New("config: invalid value")

const envPrefix = "CALLPROBE"

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Profiling ProfilingConfig `mapstructure:"profiling"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	NPlusOne  NPlusOneConfig  `mapstructure:"nplusone"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type ProfilingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MinExecutionTime time.Duration `mapstructure:"min_execution_time"`
	ShortSignatures  bool          `mapstructure:"short_signatures"`
	PoolCapacity     int           `mapstructure:"pool_capacity"`
	CheckOwner       bool          `mapstructure:"check_owner"`
}

type ReportingConfig struct {
	BufferSize int `mapstructure:"buffer_size"`

	// LogTrees logs trees slower than LogThreshold, at most once per
	// LogCooldown for the same label.
	LogTrees     bool          `mapstructure:"log_trees"`
	LogThreshold time.Duration `mapstructure:"log_threshold"`
	LogCooldown  time.Duration `mapstructure:"log_cooldown"`

	// OTel replays trees as spans. They are sent over OTLP/HTTP when
	// OTLPEndpoint is set.
	OTel         bool        `mapstructure:"otel"`
	OTLPEndpoint string      `mapstructure:"otlp_endpoint"`
	Kafka        KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NPlusOneConfig struct {
	Threshold int `mapstructure:"threshold"`
}

type HTTPConfig struct {
	Addr       string `mapstructure:"addr"`
	ReportPath string `mapstructure:"report_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "unknown-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("profiling.enabled", true)
	v.SetDefault("profiling.min_execution_time", "0s")
	v.SetDefault("profiling.short_signatures", true)
	v.SetDefault("profiling.pool_capacity", 512)
	v.SetDefault("profiling.check_owner", false)

	v.SetDefault("reporting.buffer_size", 256)
	v.SetDefault("reporting.log_trees", true)
	v.SetDefault("reporting.log_threshold", "500ms")
	v.SetDefault("reporting.log_cooldown", "1m")
	v.SetDefault("reporting.otel", false)
	v.SetDefault("reporting.otlp_endpoint", "")
	v.SetDefault("reporting.kafka.brokers", []string{})
	v.SetDefault("reporting.kafka.topic", "calltrees")

	v.SetDefault("nplusone.threshold", 10)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.report_path", "/debug/calltrees")
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads config.yaml from path, if present, and applies CALLPROBE_*
// environment overrides, e.g. CALLPROBE_PROFILING_MIN_EXECUTION_TIME=2ms.
func Load(path string) (config Config, err error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("reading config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decoding config: %w", err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Profiling.MinExecutionTime < 0 {
		errs = append(errs, fmt.Errorf("%w: profiling.min_execution_time must not be negative", ErrInvalid))
	}
	if c.Profiling.PoolCapacity < 0 {
		errs = append(errs, fmt.Errorf("%w: profiling.pool_capacity must not be negative", ErrInvalid))
	}
	if c.Reporting.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: reporting.buffer_size must be positive", ErrInvalid))
	}
	if c.Reporting.LogThreshold < 0 || c.Reporting.LogCooldown < 0 {
		errs = append(errs, fmt.Errorf("%w: reporting log threshold and cooldown must not be negative", ErrInvalid))
	}
	if len(c.Reporting.Kafka.Brokers) > 0 && c.Reporting.Kafka.Topic == "" {
		errs = append(errs, fmt.Errorf("%w: reporting.kafka.topic is required with brokers", ErrInvalid))
	}
	if c.NPlusOne.Threshold < 2 {
		errs = append(errs, fmt.Errorf("%w: nplusone.threshold must be at least 2", ErrInvalid))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat))
	}
	return errors.Join(errs...)
}

// ProfilerConfig maps the profiling section onto profiling.Config.
func (c Config) ProfilerConfig() profiling.Config {
	return profiling.Config{
		Enabled:          c.Profiling.Enabled,
		MinExecutionTime: c.Profiling.MinExecutionTime,
		ShortSignatures:  c.Profiling.ShortSignatures,
		PoolCapacity:     c.Profiling.PoolCapacity,
		CheckOwner:       c.Profiling.CheckOwner,
	}
}
