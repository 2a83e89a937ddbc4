// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App          AppConfig          `koanf:"app"`
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Redis        RedisConfig        `koanf:"redis"`
	JWT          JWTConfig          `koanf:"jwt"`
	OAuth        OAuthConfig        `koanf:"oauth"`
	TokenCache   TokenCacheConfig   `koanf:"token_cache"`
	TokenBinding TokenBindingConfig `koanf:"token_binding"`
	Geo          GeoConfig          `koanf:"geo"`
	RateLimit    RateLimitConfig    `koanf:"rate_limit"`
	CORS         CORSConfig         `koanf:"cors"`
	Log          LogConfig          `koanf:"log"`
	Otel         OtelConfig         `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

type JWTConfig struct {
	PublicKeyPath string `koanf:"public_key_path"`
	Issuer        string `koanf:"issuer"`
	Audience      string `koanf:"audience"`
}

// OAuthConfig covers the boundary with the authorization engine: the
// first-party client it is driven with, and the passphrase used to decode
// the opaque refresh tokens it hands back.
type OAuthConfig struct {
	EngineURL            string        `koanf:"engine_url"`
	ClientID             string        `koanf:"client_id"`
	ClientSecret         string        `koanf:"client_secret"`
	EncryptionPassphrase string        `koanf:"encryption_passphrase"`
	RefreshScopes        string        `koanf:"refresh_scopes"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
}

type TokenCacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
	Prefix  string        `koanf:"prefix"`
}

type TokenBindingConfig struct {
	ConcurrentIPWindow     time.Duration `koanf:"concurrent_ip_window"`
	MaxConcurrentIPs       int           `koanf:"max_concurrent_ips"`
	ConcurrentIPFailClosed bool          `koanf:"concurrent_ip_fail_closed"`
	MaxIPChanges           int           `koanf:"max_ip_changes"`
	MinIPChangeInterval    time.Duration `koanf:"min_ip_change_interval"`
	SuspiciousJumpWindow   time.Duration `koanf:"suspicious_geo_jump_window"`
	GeoNotifyCooldown      time.Duration `koanf:"geo_notify_cooldown"`
	IPHistoryLimit         int           `koanf:"ip_history_limit"`
}

type GeoConfig struct {
	LookupURL     string        `koanf:"lookup_url"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		k := koanf.New(".")

		if err := loadDefaults(k); err != nil {
			loadErr = fmt.Errorf("load defaults: %w", err)
			return
		}

		if configPath != "" {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				loadErr = fmt.Errorf("load config file: %w", err)
				return
			}
		}

		if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
			loadErr = fmt.Errorf("load env vars: %w", err)
			return
		}

		cfg = &Config{}
		if err := k.Unmarshal("", cfg); err != nil {
			loadErr = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		if err := validate(cfg); err != nil {
			loadErr = fmt.Errorf("validate config: %w", err)
			return
		}
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "SoundVault Auth",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"jwt.issuer":          "soundvault-auth",
		"jwt.audience":        "soundvault-api",
		"jwt.public_key_path": "keys/public.pem",

		"oauth.engine_url":      "http://localhost:8081",
		"oauth.refresh_scopes":  "access-api access-broadcasting",
		"oauth.request_timeout": "10s",

		"token_cache.enabled": true,
		"token_cache.ttl":     "0s",
		"token_cache.prefix":  "token:v1:",

		"token_binding.concurrent_ip_window":       "300s",
		"token_binding.max_concurrent_ips":         1,
		"token_binding.concurrent_ip_fail_closed":  false,
		"token_binding.max_ip_changes":             10,
		"token_binding.min_ip_change_interval":     "5m",
		"token_binding.suspicious_geo_jump_window": "2h",
		"token_binding.geo_notify_cooldown":        "1h",
		"token_binding.ip_history_limit":           10,

		"geo.lookup_url":     "http://ip-api.com/json",
		"geo.lookup_timeout": "5s",
		"geo.cache_ttl":      "1h",

		"rate_limit.requests": 100,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    20,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Session-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "soundvault-auth",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"JWT_PUBLIC_KEY_PATH":         "jwt.public_key_path",
	"JWT_ISSUER":                  "jwt.issuer",
	"JWT_AUDIENCE":                "jwt.audience",
	"OAUTH_ENGINE_URL":            "oauth.engine_url",
	"OAUTH_CLIENT_ID":             "oauth.client_id",
	"OAUTH_CLIENT_SECRET":         "oauth.client_secret",
	"OAUTH_ENCRYPTION_PASSPHRASE": "oauth.encryption_passphrase",
	"TOKEN_CACHE_ENABLED":         "token_cache.enabled",
	"TOKEN_CACHE_TTL":             "token_cache.ttl",
	"GEO_LOOKUP_URL":              "geo.lookup_url",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.OAuth.EncryptionPassphrase == "" {
		return fmt.Errorf("OAUTH_ENCRYPTION_PASSPHRASE is required")
	}

	if c.TokenBinding.MaxConcurrentIPs < 1 {
		return fmt.Errorf("token_binding.max_concurrent_ips must be at least 1")
	}

	if c.TokenBinding.ConcurrentIPWindow <= 0 {
		return fmt.Errorf("token_binding.concurrent_ip_window must be positive")
	}

	if c.TokenBinding.IPHistoryLimit < 1 {
		return fmt.Errorf("token_binding.ip_history_limit must be at least 1")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
