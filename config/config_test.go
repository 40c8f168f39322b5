package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `log_level = "debug"

[discord]
guild_id = "123456789"

[registration]
form_channel = "registration-form"

[pretix]
base_url = "https://pretix.eu/api/v1/organizers/europython/events/ep2025"
refresh_interval = "10m"

[roles.item_to_roles]
Business = ["Participants", "Onsite Participants"]

[roles.variation_to_roles]
Volunteer = ["Volunteers"]

[programme]
api_url = "https://programme.europython.eu/schedule.json"
notification_channel = "programme-notifications"
lead_time = "5m"
timezone = "Europe/Prague"

[programme.rooms]
"Forum Hall" = "forum-hall"

[livestream]
file = "livestreams.toml"

[stats]
organizer_role = "Organizers"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "discord-secret")
	t.Setenv("PRETIX_TOKEN", "pretix-secret")

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "123456789", cfg.Discord.GuildID)
	assert.Equal(t, "discord-secret", cfg.Discord.Token)
	assert.Equal(t, "pretix-secret", cfg.Pretix.Token)
	assert.Equal(t, 10*time.Minute, cfg.Pretix.RefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Programme.LeadTime)
	assert.Equal(t, "Organizers", cfg.Stats.OrganizerRole)

	// defaults kick in for unset values
	assert.Equal(t, "registration-help", cfg.Registration.HelpChannel)
	assert.Equal(t, "pretix_cache.json", cfg.Pretix.CacheFile)
	assert.Equal(t, ":8080", cfg.Ops.Addr)

	// viper lowercases map keys; lookups downstream are case-insensitive
	assert.Equal(t, []string{"Participants", "Onsite Participants"}, cfg.Roles.ItemToRoles["business"])
	assert.Equal(t, "forum-hall", cfg.Programme.Rooms["forum hall"])
}

func TestLoadRejectsMissingTokens(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("PRETIX_TOKEN", "pretix-secret")

	_, err := Load(writeConfig(t, validTOML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_BOT_TOKEN")
}

func TestLoadRejectsMissingGuildID(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "discord-secret")
	t.Setenv("PRETIX_TOKEN", "pretix-secret")

	const noGuild = `[pretix]
base_url = "https://pretix.eu/api/v1/organizers/europython/events/ep2025"

[programme]
api_url = "https://programme.europython.eu/schedule.json"
notification_channel = "programme-notifications"

[stats]
organizer_role = "Organizers"
`
	_, err := Load(writeConfig(t, noGuild))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.guild_id")
}

func TestSimulatedStart(t *testing.T) {
	cfg := ProgrammeConfig{}
	_, ok, err := cfg.SimulatedStart()
	require.NoError(t, err)
	assert.False(t, ok)

	cfg.SimulatedStartTime = "2025-07-16T08:55:00+02:00"
	start, ok, err := cfg.SimulatedStart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8, start.Hour())

	cfg.SimulatedStartTime = "yesterday"
	_, _, err = cfg.SimulatedStart()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	loc, err := ProgrammeConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = ProgrammeConfig{Timezone: "Europe/Prague"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Prague", loc.String())

	_, err = ProgrammeConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
