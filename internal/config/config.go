package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string
	PublicURL  string

	DBDriver          string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	MigrationsPath    string

	LogLevel  string
	LogFormat string

	TrustProxy         bool
	CORSAllowedOrigins []string

	GrantSigningKey  string
	GrantTTLHours    int
	SecretEncryptKey string
	AdminAPIKey      string

	AttemptLimit     int
	AttemptWindowMin int
	AttemptStore     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	RequestsPerMinute int

	CaptchaEnabled   bool
	CaptchaProvider  string
	CaptchaVerifyURL string
	CaptchaSecret    string

	NotifySender     string
	NotifyFrom       string
	NotifyAdminEmail string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

const defaultKey = "CHANGE_ME_PRODUCTION_KEY"

var defaults = map[string]any{
	"LISTEN_ADDR":                  ":8080",
	"PUBLIC_URL":                   "",
	"APP_DB_DRIVER":                "sqlite",
	"APP_DB_DSN":                   "",
	"APP_DB_PATH":                  "./data/gallery.db",
	"APP_DB_MAX_OPEN_CONNS":        4,
	"APP_DB_MAX_IDLE_CONNS":        2,
	"APP_DB_CONN_MAX_LIFETIME_MIN": 30,
	"APP_MIGRATIONS_PATH":          "migrations/001_init.sql",
	"LOG_LEVEL":                    "info",
	"LOG_FORMAT":                   "json",
	"TRUST_PROXY":                  false,
	"CORS_ALLOWED_ORIGINS":         "",
	"GRANT_SIGNING_KEY":            defaultKey,
	"GRANT_TTL_HOURS":              24 * 30,
	"SECRET_ENCRYPT_KEY":           defaultKey,
	"ADMIN_API_KEY":                "",
	"ATTEMPT_LIMIT":                10,
	"ATTEMPT_WINDOW_MIN":           15,
	"ATTEMPT_STORE":                "memory",
	"REDIS_ADDR":                   "127.0.0.1:6379",
	"REDIS_PASSWORD":               "",
	"REDIS_DB":                     0,
	"REQUESTS_PER_MINUTE":          60,
	"CAPTCHA_ENABLED":              false,
	"CAPTCHA_PROVIDER":             "turnstile",
	"CAPTCHA_VERIFY_URL":           "",
	"CAPTCHA_SECRET":               "",
	"NOTIFY_SENDER":                "log",
	"NOTIFY_FROM":                  "gallery@example.com",
	"NOTIFY_ADMIN_EMAIL":           "",
	"SMTP_HOST":                    "127.0.0.1",
	"SMTP_PORT":                    587,
	"SMTP_USERNAME":                "",
	"SMTP_PASSWORD":                "",
	"HTTP_READ_TIMEOUT_SEC":        10,
	"HTTP_READ_HEADER_TIMEOUT_SEC": 5,
	"HTTP_WRITE_TIMEOUT_SEC":       30,
	"HTTP_IDLE_TIMEOUT_SEC":        60,
}

// Load reads configuration from the environment, optionally layered over the
// file named by GALLERY_CONFIG_FILE.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	if file := strings.TrimSpace(v.GetString("GALLERY_CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:               v.GetString("LISTEN_ADDR"),
		PublicURL:                strings.TrimRight(v.GetString("PUBLIC_URL"), "/"),
		DBDriver:                 strings.ToLower(strings.TrimSpace(v.GetString("APP_DB_DRIVER"))),
		DBDSN:                    v.GetString("APP_DB_DSN"),
		DBPath:                   v.GetString("APP_DB_PATH"),
		DBMaxOpenConns:           v.GetInt("APP_DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:           v.GetInt("APP_DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:        time.Duration(v.GetInt("APP_DB_CONN_MAX_LIFETIME_MIN")) * time.Minute,
		MigrationsPath:           v.GetString("APP_MIGRATIONS_PATH"),
		LogLevel:                 strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:                strings.ToLower(v.GetString("LOG_FORMAT")),
		TrustProxy:               v.GetBool("TRUST_PROXY"),
		CORSAllowedOrigins:       splitCSV(v.GetString("CORS_ALLOWED_ORIGINS")),
		GrantSigningKey:          v.GetString("GRANT_SIGNING_KEY"),
		GrantTTLHours:            v.GetInt("GRANT_TTL_HOURS"),
		SecretEncryptKey:         v.GetString("SECRET_ENCRYPT_KEY"),
		AdminAPIKey:              strings.TrimSpace(v.GetString("ADMIN_API_KEY")),
		AttemptLimit:             v.GetInt("ATTEMPT_LIMIT"),
		AttemptWindowMin:         v.GetInt("ATTEMPT_WINDOW_MIN"),
		AttemptStore:             strings.ToLower(strings.TrimSpace(v.GetString("ATTEMPT_STORE"))),
		RedisAddr:                v.GetString("REDIS_ADDR"),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		RedisDB:                  v.GetInt("REDIS_DB"),
		RequestsPerMinute:        v.GetInt("REQUESTS_PER_MINUTE"),
		CaptchaEnabled:           v.GetBool("CAPTCHA_ENABLED"),
		CaptchaProvider:          strings.ToLower(v.GetString("CAPTCHA_PROVIDER")),
		CaptchaVerifyURL:         v.GetString("CAPTCHA_VERIFY_URL"),
		CaptchaSecret:            v.GetString("CAPTCHA_SECRET"),
		NotifySender:             strings.ToLower(v.GetString("NOTIFY_SENDER")),
		NotifyFrom:               v.GetString("NOTIFY_FROM"),
		NotifyAdminEmail:         strings.TrimSpace(v.GetString("NOTIFY_ADMIN_EMAIL")),
		SMTPHost:                 v.GetString("SMTP_HOST"),
		SMTPPort:                 v.GetInt("SMTP_PORT"),
		SMTPUsername:             v.GetString("SMTP_USERNAME"),
		SMTPPassword:             v.GetString("SMTP_PASSWORD"),
		HTTPReadTimeoutSec:       v.GetInt("HTTP_READ_TIMEOUT_SEC"),
		HTTPReadHeaderTimeoutSec: v.GetInt("HTTP_READ_HEADER_TIMEOUT_SEC"),
		HTTPWriteTimeoutSec:      v.GetInt("HTTP_WRITE_TIMEOUT_SEC"),
		HTTPIdleTimeoutSec:       v.GetInt("HTTP_IDLE_TIMEOUT_SEC"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "pgx", "postgres", "mysql":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("APP_DB_DSN is required for driver %s", c.DBDriver)
		}
		if c.DBDriver == "postgres" {
			c.DBDriver = "pgx"
		}
	default:
		return fmt.Errorf("APP_DB_DRIVER must be one of: sqlite, pgx, mysql")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return fmt.Errorf("invalid DB pool config")
	}
	if weakKey(c.GrantSigningKey) {
		return fmt.Errorf("GRANT_SIGNING_KEY must be set to a strong non-default value (>=24 chars)")
	}
	if weakKey(c.SecretEncryptKey) {
		return fmt.Errorf("SECRET_ENCRYPT_KEY must be set to a strong non-default value (>=24 chars)")
	}
	if c.AdminAPIKey != "" && len(c.AdminAPIKey) < 16 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 16 chars")
	}
	if c.GrantTTLHours <= 0 {
		return fmt.Errorf("GRANT_TTL_HOURS must be positive")
	}
	if c.AttemptLimit <= 0 || c.AttemptWindowMin <= 0 {
		return fmt.Errorf("attempt limit and window must be positive")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must be positive")
	}
	switch c.AttemptStore {
	case "", "memory":
		c.AttemptStore = "memory"
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when ATTEMPT_STORE=redis")
		}
	default:
		return fmt.Errorf("ATTEMPT_STORE must be one of: memory, redis")
	}
	switch c.NotifySender {
	case "", "log":
		c.NotifySender = "log"
	case "smtp":
		if c.SMTPPort <= 0 {
			return fmt.Errorf("invalid SMTP port")
		}
	default:
		return fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	if c.CaptchaEnabled {
		if strings.TrimSpace(c.CaptchaSecret) == "" {
			return fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
		if strings.TrimSpace(c.CaptchaVerifyURL) == "" {
			switch c.CaptchaProvider {
			case "turnstile", "":
				c.CaptchaVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
			case "hcaptcha":
				c.CaptchaVerifyURL = "https://hcaptcha.com/siteverify"
			default:
				return fmt.Errorf("unsupported CAPTCHA_PROVIDER: %s", c.CaptchaProvider)
			}
		}
	}
	return nil
}

func (c Config) GrantTTL() time.Duration {
	return time.Duration(c.GrantTTLHours) * time.Hour
}

func (c Config) AttemptWindow() time.Duration {
	return time.Duration(c.AttemptWindowMin) * time.Minute
}

func (c Config) HTTPServerTimeouts() (read, readHeader, write, idle time.Duration) {
	return time.Duration(c.HTTPReadTimeoutSec) * time.Second,
		time.Duration(c.HTTPReadHeaderTimeoutSec) * time.Second,
		time.Duration(c.HTTPWriteTimeoutSec) * time.Second,
		time.Duration(c.HTTPIdleTimeoutSec) * time.Second
}

func weakKey(k string) bool {
	k = strings.TrimSpace(k)
	return k == "" || k == defaultKey || len(k) < 24
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
