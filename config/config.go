package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port int
		Mode string // debug | release
	}
	DB    DBConfig
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	JWT struct {
		SecretKey string
		ExpiresIn int // в часах
	}
	SMTP struct {
		Enabled  bool
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	FX struct {
		Provider string // exchangerate_host | cbr
		BaseURL  string
		CBRURL   string
		Timeout  time.Duration
		CacheTTL time.Duration
	}
	Scheduler struct {
		Enabled  bool
		Interval time.Duration
	}
	Admin struct {
		Email    string
		Password string
	}
	IdempotencyTTL time.Duration
}

// DBConfig описывает подключение к PostgreSQL
type DBConfig struct {
	Driver         string // postgres | memory
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxIdleConns   int
	MaxOpenConns   int
	MigrationsPath string
}

// DSN возвращает строку подключения для драйвера GORM
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL возвращает адрес базы в формате golang-migrate
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// NewConfig создает новый экземпляр конфигурации.
// Значения берутся из config.yaml (если найден) и переменных окружения: SERVER_PORT, DB_HOST, FX_PROVIDER ...
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	// Настройки сервера
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	// Настройки базы данных
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "loandesk")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.max_open_conns", 50)
	v.SetDefault("db.migrations_path", "migrations")

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Настройки JWT
	v.SetDefault("jwt.secret_key", "your-secret-key-here")
	v.SetDefault("jwt.expires_in", 24)

	// Настройки SMTP
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "loans@example.com")

	// Курсы валют
	v.SetDefault("fx.provider", "exchangerate_host")
	v.SetDefault("fx.base_url", "https://api.exchangerate.host")
	v.SetDefault("fx.cbr_url", "https://www.cbr.ru/scripts")
	v.SetDefault("fx.timeout", 10*time.Second)
	v.SetDefault("fx.cache_ttl", 12*time.Hour)

	// Напоминания о просрочке
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)

	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("idempotency_ttl", 24*time.Hour)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.Mode = v.GetString("server.mode")
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.Mode != "debug" && cfg.Server.Mode != "release" {
		return nil, fmt.Errorf("invalid server mode: %q", cfg.Server.Mode)
	}

	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.Host = v.GetString("db.host")
	cfg.DB.Port = v.GetInt("db.port")
	cfg.DB.User = v.GetString("db.user")
	cfg.DB.Password = v.GetString("db.password")
	cfg.DB.DBName = v.GetString("db.dbname")
	cfg.DB.SSLMode = v.GetString("db.sslmode")
	cfg.DB.MaxIdleConns = v.GetInt("db.max_idle_conns")
	cfg.DB.MaxOpenConns = v.GetInt("db.max_open_conns")
	cfg.DB.MigrationsPath = v.GetString("db.migrations_path")
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "memory" {
		return nil, fmt.Errorf("invalid db driver: %q", cfg.DB.Driver)
	}

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.JWT.SecretKey = v.GetString("jwt.secret_key")
	cfg.JWT.ExpiresIn = v.GetInt("jwt.expires_in")
	if cfg.JWT.ExpiresIn <= 0 {
		return nil, fmt.Errorf("invalid jwt lifetime: %d", cfg.JWT.ExpiresIn)
	}

	cfg.SMTP.Enabled = v.GetBool("smtp.enabled")
	cfg.SMTP.Host = v.GetString("smtp.host")
	cfg.SMTP.Port = v.GetInt("smtp.port")
	cfg.SMTP.Username = v.GetString("smtp.username")
	cfg.SMTP.Password = v.GetString("smtp.password")
	cfg.SMTP.From = v.GetString("smtp.from")

	cfg.FX.Provider = v.GetString("fx.provider")
	cfg.FX.BaseURL = strings.TrimRight(v.GetString("fx.base_url"), "/")
	cfg.FX.CBRURL = strings.TrimRight(v.GetString("fx.cbr_url"), "/")
	cfg.FX.Timeout = v.GetDuration("fx.timeout")
	cfg.FX.CacheTTL = v.GetDuration("fx.cache_ttl")
	if cfg.FX.Provider != "exchangerate_host" && cfg.FX.Provider != "cbr" {
		return nil, fmt.Errorf("invalid fx provider: %q", cfg.FX.Provider)
	}

	cfg.Scheduler.Enabled = v.GetBool("scheduler.enabled")
	cfg.Scheduler.Interval = v.GetDuration("scheduler.interval")

	cfg.Admin.Email = v.GetString("admin.email")
	cfg.Admin.Password = v.GetString("admin.password")
	cfg.IdempotencyTTL = v.GetDuration("idempotency_ttl")

	return cfg, nil
}
