package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bot:pw@localhost:5432/pickups")
	t.Setenv("DISCORD_BOT_TOKEN", "abc")
	t.Setenv("ADMIN_ROLE_IDS", "1,2")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.StagePollInterval)
	assert.Equal(t, []string{"1", "2"}, cfg.AdminRoleIDs)
	assert.Equal(t, "Bot abc", cfg.BotAuth())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestParseMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DISCORD_BOT_TOKEN", "abc")

	_, err := Parse()
	require.Error(t, err)
}

func TestParseRejectsNonPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://u:secret@db/x")
	t.Setenv("DISCORD_BOT_TOKEN", "abc")

	_, err := Parse()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestBotAuthKeepsPrefix(t *testing.T) {
	cfg := Config{DiscordToken: " Bot xyz "}
	assert.Equal(t, "Bot xyz", cfg.BotAuth())
}
