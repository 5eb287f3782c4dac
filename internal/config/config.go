package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

const envPrefix = "CADENCE"

// Config is the resolved service configuration.
type Config struct {
	Port      string
	LogLevel  string
	DBPath    string
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Facility  FacilityConfig
	ConfigDB  ConfigDBConfig
	Lock      LockConfig
	Redis     RedisConfig
	Catalog   string
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Tick    time.Duration
}

type FacilityConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
	RPS     float64
	Burst   int
}

type ConfigDBConfig struct {
	URL     string
	Timeout time.Duration
	TTL     time.Duration
}

type LockConfig struct {
	Backend string
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

var errMissingSigningKey = errors.New("auth.signing_key must be set")

// setDefaults registers every default on v so a missing config file still yields a runnable service.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.path", "cadences.db")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick", 5*time.Minute)
	v.SetDefault("facility.base_url", "https://observe.lco.global")
	v.SetDefault("facility.timeout", 20*time.Second)
	v.SetDefault("facility.retries", 3)
	v.SetDefault("facility.rps", 2.0)
	v.SetDefault("facility.burst", 4)
	v.SetDefault("configdb.url", "http://configdb.lco.gtn")
	v.SetDefault("configdb.timeout", 15*time.Second)
	v.SetDefault("configdb.ttl", time.Hour)
	v.SetDefault("lock.backend", LockMemory)
	v.SetDefault("lock.ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}

// Load reads configs/config.yml (or the file named by path) and environment
// overrides prefixed with CADENCE_. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log.level"),
		DBPath:   v.GetString("db.path"),
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("scheduler.enabled"),
			Tick:    v.GetDuration("scheduler.tick"),
		},
		Facility: FacilityConfig{
			BaseURL: v.GetString("facility.base_url"),
			Token:   v.GetString("facility.token"),
			Timeout: v.GetDuration("facility.timeout"),
			Retries: v.GetInt("facility.retries"),
			RPS:     v.GetFloat64("facility.rps"),
			Burst:   v.GetInt("facility.burst"),
		},
		ConfigDB: ConfigDBConfig{
			URL:     v.GetString("configdb.url"),
			Timeout: v.GetDuration("configdb.timeout"),
			TTL:     v.GetDuration("configdb.ttl"),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(v.GetString("lock.backend")),
			TTL:     v.GetDuration("lock.ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Catalog: v.GetString("catalog.path"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errMissingSigningKey
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be positive, got %s", c.Scheduler.Tick)
	}
	switch c.Lock.Backend {
	case LockMemory, LockRedis:
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockMemory, LockRedis, c.Lock.Backend)
	}
	if c.Facility.Retries < 0 {
		return fmt.Errorf("facility.retries must not be negative, got %d", c.Facility.Retries)
	}
	return nil
}
