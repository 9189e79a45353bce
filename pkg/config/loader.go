package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configs/config.yaml (if present) and APP_* environment
// variables.
func Load() (*Config, error) {
	return LoadFrom("./configs", ".", "/app/configs")
}

// LoadFrom is Load with explicit config search paths.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	v.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	v.BindEnv("ocpp.port", "OCPP_PORT", "APP_OCPP_PORT")
	v.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	v.BindEnv("nats.url", "NATS_URL", "APP_NATS_URL")
	v.BindEnv("rabbitmq.url", "RABBITMQ_URL", "APP_RABBITMQ_URL")
	v.BindEnv("vault.token", "VAULT_TOKEN", "APP_VAULT_TOKEN")
	v.BindEnv("app.environment", "APP_ENVIRONMENT")
	v.BindEnv("logging.level", "LOG_LEVEL", "APP_LOGGING_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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

func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ocpp-datum")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.node_id", "ocpp-datum-0")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("ocpp.port", 9000)
	v.SetDefault("ocpp.path", "/ocpp/")
	v.SetDefault("ocpp.heartbeat_interval", 300)
	v.SetDefault("ocpp.websocket_ping_interval", 30*time.Second)

	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.key_prefix", "ocpp-datum:")

	v.SetDefault("rabbitmq.exchange", "datum")
	v.SetDefault("realtime.driver", "nats")
	v.SetDefault("realtime.subject_prefix", "datum")

	v.SetDefault("status.flush_delay", 2*time.Second)
	v.SetDefault("status.drain_on_stop", true)
	v.SetDefault("status.stop_timeout", 10*time.Second)

	v.SetDefault("cache.settings_ttl", 5*time.Minute)
	v.SetDefault("cache.authorization_ttl", time.Minute)

	v.SetDefault("vault.mount", "secret")
	v.SetDefault("vault.database_path", "database")

	v.SetDefault("opentelemetry.service_name", "ocpp-datum")
	v.SetDefault("opentelemetry.jaeger.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("opentelemetry.jaeger.sampler_param", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Realtime.Driver {
	case "nats", "rabbitmq", "none", "":
	default:
		return fmt.Errorf("config: unknown realtime.driver %q", c.Realtime.Driver)
	}
	if c.Status.FlushDelay < 0 {
		return fmt.Errorf("config: status.flush_delay must not be negative")
	}
	if c.Database.URL == "" && !c.Vault.Enabled {
		return fmt.Errorf("config: database.url is required unless vault is enabled")
	}
	return nil
}
