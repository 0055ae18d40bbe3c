package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	JWTSecret          string
	JWTAlgorithm       string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	JTIExpiry          time.Duration
	PurposeTokenExpiry time.Duration
	StoreTimeout       time.Duration
	BcryptCost         int

	Domain string
	Mail   MailConfig

	KafkaBrokers []string
	EventsTopic  string
}

type MailConfig struct {
	Transport string
	From      string
	Server    string
	Port      int
	Username  string
	Password  string
	Timeout   time.Duration
	Topic     string
}

var ErrMissingSecret = errors.New("JWT_SECRET is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_EXPIRY", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRY", "168h")
	v.SetDefault("JTI_EXPIRY", "1h")
	v.SetDefault("PURPOSE_TOKEN_EXPIRY", "24h")
	v.SetDefault("STORE_TIMEOUT", "2s")
	v.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)
	v.SetDefault("DOMAIN", "localhost:8080")
	v.SetDefault("MAIL_TRANSPORT", "log")
	v.SetDefault("MAIL_FROM", "noreply@bookly.local")
	v.SetDefault("MAIL_SERVER", "localhost")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("MAIL_USERNAME", "")
	v.SetDefault("MAIL_PASSWORD", "")
	v.SetDefault("MAIL_TIMEOUT", "10s")
	v.SetDefault("MAIL_TOPIC", "mail_outbox")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_TOPIC", "user_events")
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("notice: .env file not found: %v, using system environment variables", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		JWTAlgorithm:       strings.ToUpper(v.GetString("JWT_ALGORITHM")),
		AccessTokenExpiry:  v.GetDuration("ACCESS_TOKEN_EXPIRY"),
		RefreshTokenExpiry: v.GetDuration("REFRESH_TOKEN_EXPIRY"),
		JTIExpiry:          v.GetDuration("JTI_EXPIRY"),
		PurposeTokenExpiry: v.GetDuration("PURPOSE_TOKEN_EXPIRY"),
		StoreTimeout:       v.GetDuration("STORE_TIMEOUT"),
		BcryptCost:         v.GetInt("BCRYPT_COST"),
		Domain:             v.GetString("DOMAIN"),
		Mail: MailConfig{
			Transport: strings.ToLower(v.GetString("MAIL_TRANSPORT")),
			From:      v.GetString("MAIL_FROM"),
			Server:    v.GetString("MAIL_SERVER"),
			Port:      v.GetInt("MAIL_PORT"),
			Username:  v.GetString("MAIL_USERNAME"),
			Password:  v.GetString("MAIL_PASSWORD"),
			Timeout:   v.GetDuration("MAIL_TIMEOUT"),
			Topic:     v.GetString("MAIL_TOPIC"),
		},
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		EventsTopic:  v.GetString("EVENTS_TOPIC"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported", c.JWTAlgorithm)
	}
	for name, d := range map[string]time.Duration{
		"ACCESS_TOKEN_EXPIRY":  c.AccessTokenExpiry,
		"REFRESH_TOKEN_EXPIRY": c.RefreshTokenExpiry,
		"JTI_EXPIRY":           c.JTIExpiry,
		"PURPOSE_TOKEN_EXPIRY": c.PurposeTokenExpiry,
		"STORE_TIMEOUT":        c.StoreTimeout,
		"MAIL_TIMEOUT":         c.Mail.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch c.Mail.Transport {
	case "log", "smtp":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("MAIL_TRANSPORT=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("MAIL_TRANSPORT %q is not supported", c.Mail.Transport)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
