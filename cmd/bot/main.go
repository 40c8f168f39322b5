// Package main runs the conference Discord bot: attendee registration
// against Pretix, programme notifications, livestream updates, and guild
// statistics, plus a small ops HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/europython/discord-bot/config"
	"github.com/europython/discord-bot/internal/clock"
	"github.com/europython/discord-bot/internal/discord"
	"github.com/europython/discord-bot/internal/livestream"
	"github.com/europython/discord-bot/internal/ops"
	"github.com/europython/discord-bot/internal/pretix"
	"github.com/europython/discord-bot/internal/programme"
	"github.com/europython/discord-bot/internal/registration"
	"github.com/europython/discord-bot/internal/stats"
)

const (
	notifyInterval     = time.Minute
	fastNotifyInterval = 2 * time.Second
	shutdownTimeout    = 15 * time.Second
)

func main() {
	configFile := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	location, err := cfg.Programme.Location()
	if err != nil {
		logger.Fatal("programme timezone", zap.Error(err))
	}

	clk := clock.Clock(clock.NewSystem())
	interval := notifyInterval
	simStart, simulated, err := cfg.Programme.SimulatedStart()
	if err != nil {
		logger.Fatal("programme clock", zap.Error(err))
	}
	if simulated {
		clk = clock.NewSimulated(simStart, cfg.Programme.FastMode)
		if cfg.Programme.FastMode {
			interval = fastNotifyInterval
		}
		logger.Info("running with simulated time",
			zap.Time("start", simStart), zap.Bool("fast_mode", cfg.Programme.FastMode))
	}

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal("create discord session", zap.Error(err))
	}
	dg.ShouldRetryOnRateLimit = true
	dg.MaxRestRetries = 3
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentGuildMembers |
		discordgo.IntentMessageContent

	guild := discord.NewGuild(dg, cfg.Discord.GuildID, logger)

	// Registration
	tickets := pretix.NewClient(pretix.Config{
		BaseURL:   cfg.Pretix.BaseURL,
		Token:     cfg.Pretix.Token,
		CacheFile: cfg.Pretix.CacheFile,
	}, logger)
	regLog, err := registration.NewLog(cfg.Registration.LogFile, logger)
	if err != nil {
		logger.Fatal("registration log", zap.Error(err))
	}
	mapper := registration.NewRoleMapper(cfg.Roles.ItemToRoles, cfg.Roles.VariationToRoles)
	flow := registration.NewFlow(tickets, guild, regLog, mapper, logger)
	regHandler := registration.NewHandler(flow, guild, cfg.Registration, logger)

	// Programme notifications
	schedule := programme.NewConnector(cfg.Programme.APIURL, cfg.Programme.CacheFile, location, logger)
	streams := livestream.NewStore(cfg.Livestream.File, logger)
	notifier := programme.NewNotifier(schedule, streams, guild, clk, programme.NotifierConfig{
		MainChannel:  cfg.Programme.NotificationChannel,
		RoomChannels: lowerKeys(cfg.Programme.Rooms),
		Lead:         cfg.Programme.LeadTime,
		Interval:     interval,
	}, logger)

	// Guild statistics
	statistics := stats.New(guild, cfg.Stats.OrganizerRole, logger)

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("discord ready",
			zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
	})
	dg.AddHandler(regHandler.OnInteraction)
	dg.AddHandler(statistics.OnMessage)

	if err := dg.Open(); err != nil {
		logger.Fatal("open discord connection", zap.Error(err))
	}
	defer dg.Close()

	// initial data; failures fall back to the cache files
	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := tickets.Refresh(startCtx); err != nil {
		logger.Warn("initial pretix fetch", zap.Error(err))
	}
	if err := schedule.FetchSchedule(startCtx); err != nil {
		logger.Warn("initial schedule fetch", zap.Error(err))
	}
	if cfg.Livestream.File != "" {
		if err := streams.Load(); err != nil {
			logger.Warn("initial livestream load", zap.Error(err))
		}
	}
	startCancel()

	if simulated {
		// avoid piling up rehearsal notifications from earlier runs
		notifier.PurgeRoomChannels()
	}
	if err := regHandler.PostWelcome(); err != nil {
		logger.Error("post welcome message", zap.Error(err))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go notifier.Run(runCtx)
	if cfg.Livestream.File != "" {
		go func() {
			if err := streams.Watch(runCtx); err != nil {
				logger.Warn("livestream watcher", zap.Error(err))
			}
		}()
	}

	refresher := cron.New()
	refresher.Schedule(cron.Every(cfg.Pretix.RefreshInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := tickets.Refresh(ctx); err != nil {
			logger.Warn("periodic pretix refresh", zap.Error(err))
		}
	}))
	refresher.Schedule(cron.Every(cfg.Programme.RefreshInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := schedule.FetchSchedule(ctx); err != nil {
			logger.Warn("periodic schedule refresh", zap.Error(err))
		}
	}))
	refresher.Start()

	srv := ops.NewServer(cfg.Ops, statistics, logger)
	go func() {
		logger.Info("ops server listening", zap.String("addr", cfg.Ops.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ops server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	runCancel()
	<-refresher.Stop().Done()

	if err := regHandler.PostOffline(); err != nil {
		logger.Warn("post offline notice", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := cfg.Build()
	return logger
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
