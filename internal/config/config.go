package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr    string
		BaseURL string `mapstructure:"base_url"`
	}
	Database struct {
		Path string
	}
	Auth struct {
		SecretKey            string `mapstructure:"secret_key"`
		RememberDays         int    `mapstructure:"remember_days"`
		SessionHours         int    `mapstructure:"session_hours"`
		ResetTokenTTLMinutes int    `mapstructure:"reset_token_ttl_minutes"`
		SecureCookie         bool   `mapstructure:"secure_cookie"`
	}
	Feed struct {
		PostsPerPage int `mapstructure:"posts_per_page"`
	}
	Mail struct {
		Sender  string
		Workers int
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MICROBLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:5000")
	v.SetDefault("server.base_url", "http://localhost:5000")
	v.SetDefault("database.path", "data/microblog.db")
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.remember_days", 365)
	v.SetDefault("auth.session_hours", 24)
	v.SetDefault("auth.reset_token_ttl_minutes", 10)
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("feed.posts_per_page", 25)
	v.SetDefault("mail.sender", "no-reply@microblog.local")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return fmt.Errorf("auth secret key is required")
	}
	if c.Feed.PostsPerPage <= 0 {
		return fmt.Errorf("feed posts per page must be positive, got %d", c.Feed.PostsPerPage)
	}
	if c.Auth.ResetTokenTTLMinutes <= 0 {
		return fmt.Errorf("reset token ttl must be positive, got %d", c.Auth.ResetTokenTTLMinutes)
	}
	return nil
}
