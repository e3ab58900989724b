package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	MQTT     MQTTConfig
	Cache    CacheConfig
	Presence PresenceConfig
	Admin    AdminConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MQTTConfig tunes the broker connection, reconnect backoff and the
// at-least-once delivery tracker.
type MQTTConfig struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	BaseTopic         string
	ConnectTimeout    time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	AckTimeout        time.Duration
	AckRetries        int
	AckCheckInterval  time.Duration
	OfflineGrace      time.Duration
}

// CacheConfig governs the Redis response cache for hot read endpoints.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// AdminConfig seeds the bootstrap operator account. Seeding is skipped when
// the password is empty.
type AdminConfig struct {
	Username string
	Password string
}

// PresenceConfig governs availability derived from desk-unit beacons. Grace
// holds a faculty member visible for a window after their beacon drops.
type PresenceConfig struct {
	Grace time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.MQTT = MQTTConfig{
		BrokerURL:         v.GetString("MQTT_BROKER_URL"),
		ClientID:          v.GetString("MQTT_CLIENT_ID"),
		Username:          v.GetString("MQTT_USERNAME"),
		Password:          v.GetString("MQTT_PASSWORD"),
		BaseTopic:         v.GetString("MQTT_BASE_TOPIC"),
		ConnectTimeout:    parseDuration(v.GetString("MQTT_CONNECT_TIMEOUT"), 3*time.Second),
		ReconnectMinDelay: parseDuration(v.GetString("MQTT_RECONNECT_MIN_DELAY"), time.Second),
		ReconnectMaxDelay: parseDuration(v.GetString("MQTT_RECONNECT_MAX_DELAY"), 2*time.Minute),
		AckTimeout:        parseDuration(v.GetString("MQTT_ACK_TIMEOUT"), 30*time.Second),
		AckRetries:        v.GetInt("MQTT_ACK_RETRIES"),
		AckCheckInterval:  parseDuration(v.GetString("MQTT_ACK_CHECK_INTERVAL"), time.Second),
		OfflineGrace:      parseDuration(v.GetString("MQTT_OFFLINE_GRACE"), 500*time.Millisecond),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), time.Minute),
	}

	cfg.Presence = PresenceConfig{
		Grace: parseDuration(v.GetString("PRESENCE_GRACE"), time.Minute),
	}

	cfg.Admin = AdminConfig{
		Username: v.GetString("ADMIN_USERNAME"),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "consultease")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "consultease-central")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MQTT_BROKER_URL", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_BASE_TOPIC", "consultease")
	v.SetDefault("MQTT_CONNECT_TIMEOUT", "3s")
	v.SetDefault("MQTT_RECONNECT_MIN_DELAY", "1s")
	v.SetDefault("MQTT_RECONNECT_MAX_DELAY", "2m")
	v.SetDefault("MQTT_ACK_TIMEOUT", "30s")
	v.SetDefault("MQTT_ACK_RETRIES", 3)
	v.SetDefault("MQTT_ACK_CHECK_INTERVAL", "1s")
	v.SetDefault("MQTT_OFFLINE_GRACE", "500ms")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "1m")

	v.SetDefault("PRESENCE_GRACE", "1m")

	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
