package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
}

type Config struct {
	ListenAddr       string             `mapstructure:"listen_addr"`
	LogLevel         string             `mapstructure:"log_level"`
	Postgres         DBConfig           `mapstructure:"postgres"`
	RedisAddr        string             `mapstructure:"redis_addr"`
	MQTTBrokerURL    string             `mapstructure:"mqtt_broker_url"`
	MQTTClientID     string             `mapstructure:"mqtt_client_id"`
	MQTTKeepAlive    time.Duration      `mapstructure:"mqtt_keepalive"`
	MQTTRetry        time.Duration      `mapstructure:"mqtt_connect_retry_interval"`
	MQTTTLSInsecure  bool               `mapstructure:"mqtt_tls_insecure"`
	TelemetryPrefix  string             `mapstructure:"telemetry_topic_prefix"`
	IngestRetained   bool               `mapstructure:"ingest_retained"`
	UpstreamURL      string             `mapstructure:"upstream_url"`
	JWTPublicKeyPath string             `mapstructure:"jwt_public_key_path"`
	SeriesAnchorHour int                `mapstructure:"series_anchor_hour"`
	Timezone         string             `mapstructure:"timezone"`
	PowerRatings     map[string]float64 `mapstructure:"power_ratings"`
}

// defaultPowerRatings is the assumed average draw per device class in kW.
// Unknown device names draw 0.
func defaultPowerRatings() map[string]float64 {
	return map[string]float64{
		"kitchen_light":  0.005,
		"dining_light":   0.005,
		"bed_light":      0.005,
		"security_light": 0.005,
		"sound_system":   0.015,
		"tv":             0.04,
	}
}

// Load reads the yaml config file (optional) and merges environment
// overrides on top of built-in defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EMS")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8095")
	v.SetDefault("log_level", "info")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis_addr", "redis:6379")
	v.SetDefault("mqtt_client_id", "energy-monitor-service")
	v.SetDefault("mqtt_keepalive", "30s")
	v.SetDefault("mqtt_connect_retry_interval", "2s")
	v.SetDefault("mqtt_tls_insecure", false)
	v.SetDefault("telemetry_topic_prefix", "sems/telemetry/")
	v.SetDefault("ingest_retained", false)
	v.SetDefault("series_anchor_hour", 6)
	v.SetDefault("timezone", "Local")
	v.SetDefault("power_ratings", defaultPowerRatings())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.PowerRatings) == 0 {
		cfg.PowerRatings = defaultPowerRatings()
	}

	slog.Info("energy-monitor-service config loaded",
		"listen_addr", cfg.ListenAddr,
		"redis", cfg.RedisAddr,
		"mqtt", cfg.MQTTBrokerURL,
		"upstream", cfg.UpstreamURL,
		"rated_devices", len(cfg.PowerRatings))
	return &cfg, nil
}
