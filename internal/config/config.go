// Package config loads daemon settings from an optional file and LINKCHAT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LINKCHAT"

const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"

	AuthJWT  = "jwt"
	AuthGRPC = "grpc"
)

type ServerCfg struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BackendCfg struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	DSN             string        `mapstructure:"dsn"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type RealtimeCfg struct {
	URL           string        `mapstructure:"url"`
	MaxAttempts   uint64        `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
}

type AuthCfg struct {
	Mode      string        `mapstructure:"mode"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	GRPCAddr  string        `mapstructure:"grpc_addr"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ChatCfg struct {
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

type AMQPCfg struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type TelemetryCfg struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Environment  string  `mapstructure:"environment"`
}

type LogCfg struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type RateLimitCfg struct {
	SendsPerMinute int `mapstructure:"sends_per_minute"`
	Burst          int `mapstructure:"burst"`
}

type Config struct {
	Server    ServerCfg    `mapstructure:"server"`
	Backend   BackendCfg   `mapstructure:"backend"`
	Realtime  RealtimeCfg  `mapstructure:"realtime"`
	Auth      AuthCfg      `mapstructure:"auth"`
	Chat      ChatCfg      `mapstructure:"chat"`
	AMQP      AMQPCfg      `mapstructure:"amqp"`
	Telemetry TelemetryCfg `mapstructure:"telemetry"`
	Log       LogCfg       `mapstructure:"log"`
	RateLimit RateLimitCfg `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8083")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("backend.driver", BackendHTTP)
	v.SetDefault("backend.url", "http://localhost:8080/api")
	v.SetDefault("backend.dsn", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.retry_max_elapsed", 5*time.Second)
	v.SetDefault("backend.breaker_failures", 5)
	v.SetDefault("backend.breaker_timeout", 30*time.Second)

	v.SetDefault("realtime.url", "ws://localhost:8080/realtime")
	v.SetDefault("realtime.max_attempts", 5)
	v.SetDefault("realtime.retry_interval", time.Second)
	v.SetDefault("realtime.ping_interval", 25*time.Second)

	v.SetDefault("auth.mode", AuthJWT)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.grpc_addr", "localhost:8084")
	v.SetDefault("auth.timeout", 5*time.Second)

	v.SetDefault("chat.fetch_timeout", 15*time.Second)
	v.SetDefault("chat.persist_timeout", 15*time.Second)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "linkchat.events")
	v.SetDefault("amqp.routing_key", "chat.notification")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.environment", "local")

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("rate_limit.sends_per_minute", 60)
	v.SetDefault("rate_limit.burst", 5)
}

// Load reads the config file at path, if any, and applies environment
// overrides such as LINKCHAT_BACKEND_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case BackendHTTP:
		if c.Backend.URL == "" {
			return errors.New("backend.url is required for the http driver")
		}
	case BackendPostgres:
		if c.Backend.DSN == "" {
			return errors.New("backend.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}

	switch c.Auth.Mode {
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required for jwt auth")
		}
	case AuthGRPC:
		if c.Auth.GRPCAddr == "" {
			return errors.New("auth.grpc_addr is required for grpc auth")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	return nil
}
