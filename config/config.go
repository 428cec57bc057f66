// Package config loads the gateway's runtime configuration from file,
// environment, and flag overrides via viper.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every recognized option the gateway reads at startup.
type Config struct {
	HeartbeatTimeout        time.Duration `mapstructure:"heartbeat_timeout"`
	ReceiveTimeout          time.Duration `mapstructure:"receive_timeout"`
	JWTRevalidationInterval time.Duration `mapstructure:"jwt_revalidation_interval"`

	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user"`
	MaxTotalConnections   int `mapstructure:"max_total_connections"`
	BroadcastBatchSize    int `mapstructure:"broadcast_batch_size"`

	MessageRateLimit  int           `mapstructure:"message_rate_limit"`
	MessageRateWindow time.Duration `mapstructure:"message_rate_window"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`

	EventQueueSize       int           `mapstructure:"event_queue_size"`
	EventBatchSize       int           `mapstructure:"event_batch_size"`
	EventCallbackTimeout time.Duration `mapstructure:"event_callback_timeout"`

	OutboxMaxRetries   int           `mapstructure:"outbox_max_retries"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`

	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`

	// Ambient: not in the recognized-options table but required to run.
	ListenAddr    string `mapstructure:"listen_addr"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	AMQPDSN       string `mapstructure:"amqp_dsn"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	TableSecret   string `mapstructure:"table_token_secret"`
	SectorServiceURL string `mapstructure:"sector_service_url"`

	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`

	// v is kept around so Watch can hook viper's fsnotify-backed reload;
	// unexported, so mapstructure.Unmarshal never touches it.
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("heartbeat_timeout", 60*time.Second)
	v.SetDefault("receive_timeout", 90*time.Second)
	v.SetDefault("jwt_revalidation_interval", 5*time.Minute)
	v.SetDefault("max_connections_per_user", 5)
	v.SetDefault("max_total_connections", 20000)
	v.SetDefault("broadcast_batch_size", 50)
	v.SetDefault("message_rate_limit", 20)
	v.SetDefault("message_rate_window", time.Second)
	v.SetDefault("max_message_size", 64*1024)
	v.SetDefault("event_queue_size", 10000)
	v.SetDefault("event_batch_size", 50)
	v.SetDefault("event_callback_timeout", 5*time.Second)
	v.SetDefault("outbox_max_retries", 5)
	v.SetDefault("outbox_poll_interval", time.Second)
	v.SetDefault("outbox_batch_size", 50)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("reconnect_max_attempts", 20)
	v.SetDefault("reconnect_max_delay", 30*time.Second)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
}

// LoadConfig reads gateway.yaml (if present) from the current directory or
// /etc/orderflow-gateway/, overlays environment variables prefixed
// GATEWAY_, and overlays any flags already parsed onto fs.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("gateway")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orderflow-gateway/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("gateway")
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Watch installs an fsnotify-driven hot-reload hook on the config file that
// LoadConfig read (a no-op if none was found on disk): on every change,
// onChange is invoked with a freshly unmarshaled Config. Only
// allowed_origins and the rate-limit tunables are expected to vary at
// runtime; other fields changing on disk still reach onChange, but nothing
// in the gateway re-reads them after startup.
func (c *Config) Watch(logger *slog.Logger, onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var reloaded Config
		if err := c.v.Unmarshal(&reloaded); err != nil {
			logger.Warn("config hot-reload: unmarshal failed", "error", err)
			return
		}
		reloaded.v = c.v
		logger.Info("config file changed, reloaded", "op", e.Op.String(), "file", e.Name)
		onChange(&reloaded)
	})
	c.v.WatchConfig()
}
