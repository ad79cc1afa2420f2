package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay node runtime parameters.
type Config struct {
	ListenAddress       string         `mapstructure:"listen_address"`
	LogLevel            string         `mapstructure:"log_level"`
	LogEncoding         string         `mapstructure:"log_encoding"`
	ShutdownGracePeriod time.Duration  `mapstructure:"shutdown_grace_period"`
	Admin               AdminConfig    `mapstructure:"admin"`
	Presence            PresenceConfig `mapstructure:"presence"`
	Gateway             GatewayConfig  `mapstructure:"gateway"`
}

// AdminConfig hosts the metrics and health endpoints.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// PresenceConfig controls the last-known-offline retention policy. A zero
// retention keeps offline records forever; memory then grows with the number
// of addresses ever seen, which only matters for long-lived processes.
type PresenceConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// GatewayConfig describes the IPFS pinning service used for attachments.
type GatewayConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	GatewayBase   string        `mapstructure:"gateway_base"`
	JWTEnv        string        `mapstructure:"jwt_env"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultAdminAddress        = "127.0.0.1:9091"
	defaultLogLevel            = "info"
	defaultLogEncoding         = "json"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultSweepInterval       = time.Minute
	defaultUploadTimeout       = 60 * time.Second
	defaultJWTEnv              = "DAPPCHAT_PINATA_JWT"
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with DAPPCHAT_ and can
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DAPPCHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_encoding", defaultLogEncoding)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("presence.retention", "0s")
	v.SetDefault("presence.sweep_interval", defaultSweepInterval.String())
	v.SetDefault("gateway.jwt_env", defaultJWTEnv)
	v.SetDefault("gateway.upload_timeout", defaultUploadTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"shutdown_grace_period", defaultShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"admin.read_header_timeout", defaultReadHeaderTimeout, &cfg.Admin.ReadHeaderTimeout},
		{"presence.retention", 0, &cfg.Presence.Retention},
		{"presence.sweep_interval", defaultSweepInterval, &cfg.Presence.SweepInterval},
		{"gateway.upload_timeout", defaultUploadTimeout, &cfg.Gateway.UploadTimeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.dst = d.fallback
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogEncoding == "" {
		cfg.LogEncoding = defaultLogEncoding
	}
	if cfg.Gateway.JWTEnv == "" {
		cfg.Gateway.JWTEnv = defaultJWTEnv
	}

	return cfg, nil
}

// GatewayJWT fetches the pinning service token from the configured
// environment variable. An empty token is allowed; uploads then go out
// unauthenticated, which self-hosted gateways accept.
func (c Config) GatewayJWT() string {
	env := c.Gateway.JWTEnv
	if env == "" {
		env = defaultJWTEnv
	}
	return strings.TrimSpace(getenv(env))
}

// split out for testing.
var getenv = os.Getenv
