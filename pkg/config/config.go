package config

import "time"

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	OCPP           OCPPConfig           `mapstructure:"ocpp"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	NATS           NATSConfig           `mapstructure:"nats"`
	RabbitMQ       RabbitMQConfig       `mapstructure:"rabbitmq"`
	Realtime       RealtimeConfig       `mapstructure:"realtime"`
	Status         StatusConfig         `mapstructure:"status"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Vault          VaultConfig          `mapstructure:"vault"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	// NodeID is recorded as ConnectedTo on charge point status rows.
	NodeID string `mapstructure:"node_id"`
}

// HTTPConfig is the operational listener serving health and metrics.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type OCPPConfig struct {
	Port                  int           `mapstructure:"port"`
	Path                  string        `mapstructure:"path"`
	HeartbeatInterval     int           `mapstructure:"heartbeat_interval"`
	WebsocketPingInterval time.Duration `mapstructure:"websocket_ping_interval"`
	Security              OCPPSecurity  `mapstructure:"security"`
}

type OCPPSecurity struct {
	Enabled bool   `mapstructure:"enabled"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// RealtimeConfig selects the realtime bus transport: nats, rabbitmq or none.
type RealtimeConfig struct {
	Driver        string `mapstructure:"driver"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type StatusConfig struct {
	FlushDelay  time.Duration `mapstructure:"flush_delay"`
	DrainOnStop bool          `mapstructure:"drain_on_stop"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type CacheConfig struct {
	SettingsTTL      time.Duration `mapstructure:"settings_ttl"`
	AuthorizationTTL time.Duration `mapstructure:"authorization_ttl"`
}

type VaultConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	Token        string `mapstructure:"token"`
	Mount        string `mapstructure:"mount"`
	DatabasePath string `mapstructure:"database_path"`
}

type OpenTelemetryConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Jaeger      JaegerConfig `mapstructure:"jaeger"`
	ServiceName string       `mapstructure:"service_name"`
}

type JaegerConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	SamplerParam float64 `mapstructure:"sampler_param"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}
