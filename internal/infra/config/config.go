package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DatabaseURL  string `envconfig:"DATABASE_URL" required:"true"`
	DiscordToken string `envconfig:"DISCORD_BOT_TOKEN" required:"true"`
	// opcional: si viene, los comandos se registran sólo en ese guild (más rápido en dev)
	DiscordGuild string `envconfig:"DISCORD_GUILD_ID"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// cada cuánto el poller revisa stages pendientes (afk_check / picking_manual)
	StagePollInterval time.Duration `envconfig:"STAGE_POLL_INTERVAL" default:"5s"`
	AdminRoleIDs      []string      `envconfig:"ADMIN_ROLE_IDS"`
}

// Load lee .env (si existe) y el entorno. Falla si falta algo requerido.
func Load() Config {
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func Parse() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if !strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		return Config{}, fmt.Errorf("DATABASE_URL debe ser postgres:// (got %q)", redact(cfg.DatabaseURL))
	}
	if cfg.StagePollInterval <= 0 {
		return Config{}, fmt.Errorf("STAGE_POLL_INTERVAL debe ser > 0")
	}
	return cfg, nil
}

// BotAuth normaliza el token con el prefijo "Bot ".
func (c Config) BotAuth() string {
	auth := strings.TrimSpace(c.DiscordToken)
	if !strings.HasPrefix(strings.ToLower(auth), "bot ") {
		auth = "Bot " + auth
	}
	return auth
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func redact(s string) string {
	if i := strings.Index(s, "@"); i > 0 {
		return "***" + s[i:]
	}
	return s
}
