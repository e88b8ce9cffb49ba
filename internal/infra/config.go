package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации бота.
// Читается один раз при старте и дальше не меняется.
type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Platform PlatformConfig `mapstructure:"platform"`
}

// DiscordConfig — сервер, каналы и роли модерации.
type DiscordConfig struct {
	Token             string `mapstructure:"token"`
	GuildID           string `mapstructure:"guild_id"`
	ApprovalChannelID string `mapstructure:"approval_channel_id"`
	AuditChannelID    string `mapstructure:"audit_channel_id"`
	AdminUserID       string `mapstructure:"admin_user_id"`
	ModeratorRoleID   string `mapstructure:"moderator_role_id"`
	ApprovedRoleID    string `mapstructure:"approved_role_id"`
}

// Драйверы хранилища заявок
const (
	StoreDriverFile     = "file"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory" // только для локальной отладки: заявки не переживают рестарт
)

// StoreConfig выбирает бэкенд хранилища заявок.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// JSON-документ для driver=file
	Path string `mapstructure:"path"`
	// аренда владельца для driver=redis
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// RedisConfig описывает подключение к Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// TokensConfig — ключ MAC для токенов кнопок (hex). Пусто — случайный ключ на процесс.
type TokensConfig struct {
	Secret string `mapstructure:"secret"`
}

// AuditConfig настраивает буфер журнала модерации.
// Archive дублирует журнал в PostgreSQL (database.url) и открывает /v1/audit.
type AuditConfig struct {
	Archive       bool          `mapstructure:"archive"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ConsoleConfig описывает HTTP-сервер админки. Пустой Addr — сервер не поднимается.
type ConsoleConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig содержит пути к RSA ключам и операторов консоли.
type AuthConfig struct {
	PublicKeyPath  string           `mapstructure:"public_key_path"`
	PrivateKeyPath string           `mapstructure:"private_key_path"`
	TokenTTL       time.Duration    `mapstructure:"token_ttl"`
	Operators      []OperatorConfig `mapstructure:"operators"`
	PublicKey      []byte
	PrivateKey     []byte
}

// OperatorConfig — учетная запись консоли. Пароль хранится только как bcrypt-хэш.
type OperatorConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Scopes       []string `mapstructure:"scopes"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// PlatformConfig задает лимиты и надежность REST-вызовов к Discord.
type PlatformConfig struct {
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RetryAttempts   uint          `mapstructure:"retry_attempts"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	return load(v)
}

// LoadConfigFile читает конфигурацию из явно указанного файла.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: DISCORD_TOKEN перекроет discord.token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv видит только ключи, о которых viper знает,
	// поэтому обязательные ключи без дефолта тоже регистрируем
	for _, key := range []string{
		"discord.token", "discord.guild_id", "discord.approval_channel_id", "discord.audit_channel_id",
		"discord.admin_user_id", "discord.moderator_role_id", "discord.approved_role_id",
		"redis.password", "database.url", "tokens.secret",
		"auth.public_key_path", "auth.private_key_path",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", StoreDriverFile)
	v.SetDefault("store.path", "pending_approvals.json")
	v.SetDefault("store.lease_ttl", 30*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("audit.archive", false)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 10)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("console.addr", ":8000")
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 10*time.Second)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("platform.rate_limit", 5)
	v.SetDefault("platform.rate_burst", 10)
	v.SetDefault("platform.retry_attempts", 3)
	v.SetDefault("platform.breaker_failures", 5)
	v.SetDefault("platform.breaker_timeout", 30*time.Second)
	v.SetDefault("platform.call_timeout", 10*time.Second)
	v.SetDefault("platform.queue_size", 256)
}

// Validate проверяет обязательные поля. Ошибки собираются все сразу.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct{ key, value string }{
		{"discord.token", c.Discord.Token},
		{"discord.guild_id", c.Discord.GuildID},
		{"discord.approval_channel_id", c.Discord.ApprovalChannelID},
		{"discord.approved_role_id", c.Discord.ApprovedRoleID},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.key))
		}
	}
	if c.Discord.AdminUserID == "" && c.Discord.ModeratorRoleID == "" {
		errs = append(errs, errors.New("discord.admin_user_id or discord.moderator_role_id is required"))
	}

	switch c.Store.Driver {
	case StoreDriverFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for driver file"))
		}
	case StoreDriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for driver redis"))
		}
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for driver postgres"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Audit.Archive && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for audit.archive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// loadKeyResource читает ключ из ENV (PEM целиком) или из файла по пути
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
