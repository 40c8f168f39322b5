// Package config loads the bot configuration: a TOML file for everything that
// is safe to commit (channels, role mappings, schedule settings) and the
// environment for secrets, with optional .env support.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	Discord      DiscordConfig      `mapstructure:"discord"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Pretix       PretixConfig       `mapstructure:"pretix"`
	Roles        RolesConfig        `mapstructure:"roles"`
	Programme    ProgrammeConfig    `mapstructure:"programme"`
	Livestream   LivestreamConfig   `mapstructure:"livestream"`
	Stats        StatsConfig        `mapstructure:"stats"`
	Ops          OpsConfig          `mapstructure:"ops"`
}

// DiscordConfig holds Discord connection settings. The bot token comes from
// the DISCORD_BOT_TOKEN environment variable, never from the config file.
type DiscordConfig struct {
	GuildID string `mapstructure:"guild_id"`
	Token   string `mapstructure:"-"`
}

// RegistrationConfig holds channel names and the registration log location.
type RegistrationConfig struct {
	FormChannel string `mapstructure:"form_channel"`
	HelpChannel string `mapstructure:"help_channel"`
	LogChannel  string `mapstructure:"log_channel"`
	LogFile     string `mapstructure:"log_file"`
}

// PretixConfig holds ticketing API settings. The API token comes from the
// PRETIX_TOKEN environment variable.
type PretixConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	CacheFile       string        `mapstructure:"cache_file"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Token           string        `mapstructure:"-"`
}

// RolesConfig maps ticket item and variation names to Discord role names.
// Keys are matched case-insensitively (the config loader lowercases map keys).
type RolesConfig struct {
	ItemToRoles      map[string][]string `mapstructure:"item_to_roles"`
	VariationToRoles map[string][]string `mapstructure:"variation_to_roles"`
}

// ProgrammeConfig holds schedule API and notification settings.
type ProgrammeConfig struct {
	APIURL              string            `mapstructure:"api_url"`
	CacheFile           string            `mapstructure:"cache_file"`
	NotificationChannel string            `mapstructure:"notification_channel"`
	Rooms               map[string]string `mapstructure:"rooms"` // room name -> channel name
	LeadTime            time.Duration     `mapstructure:"lead_time"`
	RefreshInterval     time.Duration     `mapstructure:"refresh_interval"`
	Timezone            string            `mapstructure:"timezone"`

	// Optional time-travel settings for rehearsing notifications before the
	// conference. With fast mode, simulated time runs 60x faster.
	SimulatedStartTime string `mapstructure:"simulated_start_time"`
	FastMode           bool   `mapstructure:"fast_mode"`
}

// LivestreamConfig points at the local livestream URL file.
type LivestreamConfig struct {
	File string `mapstructure:"file"`
}

// StatsConfig holds guild statistics settings.
type StatsConfig struct {
	OrganizerRole string `mapstructure:"organizer_role"`
}

// OpsConfig holds the operational HTTP server settings.
type OpsConfig struct {
	Addr         string `mapstructure:"addr"`
	ReadTimeout  int    `mapstructure:"read_timeout_sec"`
	WriteTimeout int    `mapstructure:"write_timeout_sec"`
}

// SimulatedStart parses the optional simulated start time.
func (c ProgrammeConfig) SimulatedStart() (time.Time, bool, error) {
	if c.SimulatedStartTime == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, c.SimulatedStartTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse simulated_start_time: %w", err)
	}
	return t, true, nil
}

// Location returns the conference timezone, defaulting to UTC.
func (c ProgrammeConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the TOML config file and environment secrets.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("log_level", "info")
	v.SetDefault("registration.form_channel", "registration-form")
	v.SetDefault("registration.help_channel", "registration-help")
	v.SetDefault("registration.log_channel", "registration-log")
	v.SetDefault("registration.log_file", "registered_log.txt")
	v.SetDefault("pretix.cache_file", "pretix_cache.json")
	v.SetDefault("pretix.refresh_interval", "5m")
	v.SetDefault("programme.cache_file", "schedule_cache.json")
	v.SetDefault("programme.lead_time", "5m")
	v.SetDefault("programme.refresh_interval", "5m")
	v.SetDefault("ops.addr", ":8080")
	v.SetDefault("ops.read_timeout_sec", 30)
	v.SetDefault("ops.write_timeout_sec", 30)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
	cfg.Pretix.Token = os.Getenv("PRETIX_TOKEN")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("missing environment variable DISCORD_BOT_TOKEN")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("missing config value discord.guild_id")
	}
	if c.Pretix.BaseURL == "" {
		return fmt.Errorf("missing config value pretix.base_url")
	}
	if c.Pretix.Token == "" {
		return fmt.Errorf("missing environment variable PRETIX_TOKEN")
	}
	if c.Programme.APIURL == "" {
		return fmt.Errorf("missing config value programme.api_url")
	}
	if c.Programme.NotificationChannel == "" {
		return fmt.Errorf("missing config value programme.notification_channel")
	}
	if c.Stats.OrganizerRole == "" {
		return fmt.Errorf("missing config value stats.organizer_role")
	}
	return nil
}
