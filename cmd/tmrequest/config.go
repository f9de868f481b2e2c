package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/fernandezvara/tmrequest"
)

// Config is the CLI configuration. Values come from an optional YAML file
// and are overridden by environment variables.
type Config struct {
	DatabaseURL    string        `yaml:"database_url" env:"TM_DATABASE_URL"`
	SettingsSource string        `yaml:"settings_source" env:"TM_SETTINGS_SOURCE" env-default:"database"`
	AssignPolicy   string        `yaml:"assign_policy" env:"TM_ASSIGN_POLICY" env-default:"rollback"`
	RevokeInvalid  bool          `yaml:"revoke_invalid" env:"TM_REVOKE_INVALID" env-default:"false"`
	RedisAddr      string        `yaml:"redis_addr" env:"TM_REDIS_ADDR"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"TM_LOCK_TTL" env-default:"30s"`
	LogLevel       string        `yaml:"log_level" env:"TM_LOG_LEVEL" env-default:"info"`
	ListenAddr     string        `yaml:"listen_addr" env:"TM_LISTEN_ADDR" env-default:":8080"`
	UserHeader     string        `yaml:"user_header" env:"TM_USER_HEADER" env-default:"X-User-ID"`

	SMTP tmrequest.SMTPConfig `yaml:"smtp"`
}

// loadConfig reads path when set, otherwise the environment only.
func loadConfig(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (c Config) assignPolicy() (tmrequest.AssignPolicy, error) {
	switch c.AssignPolicy {
	case "", "rollback":
		return tmrequest.PolicyRollback, nil
	case "leave-partial":
		return tmrequest.PolicyLeavePartial, nil
	default:
		return 0, fmt.Errorf("unknown assign policy %q", c.AssignPolicy)
	}
}

func (c Config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
