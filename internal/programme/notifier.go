package programme

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/internal/clock"
	"github.com/europython/discord-bot/internal/models"
)

// ScheduleSource yields the sessions whose lead window contains now.
type ScheduleSource interface {
	UpcomingSessions(now time.Time, lead time.Duration) []models.Session
}

// LivestreamSource resolves livestream URLs by room and conference day.
type LivestreamSource interface {
	URL(room, day string) (string, bool)
}

// Messenger covers the channel operations the notifier needs.
type Messenger interface {
	SendMessage(channel, content string) error
	SendEmbed(channel, content string, embed *discordgo.MessageEmbed) error
	SetChannelTopic(channel, topic string) error
	PurgeChannel(channel string) error
}

// NotifierConfig holds the notifier's channel wiring and timing.
type NotifierConfig struct {
	MainChannel  string
	RoomChannels map[string]string // room name (lowercase) -> channel name
	Lead         time.Duration
	Interval     time.Duration
}

// Notifier periodically evaluates the schedule against the clock and posts
// one notification per session when its lead window opens. Already-notified
// sessions are tracked in memory only: after a restart, sessions whose
// window has passed are simply never notified.
type Notifier struct {
	schedule ScheduleSource
	streams  LivestreamSource
	guild    Messenger
	clock    clock.Clock
	cfg      NotifierConfig
	logger   *zap.Logger

	notified map[string]struct{}
}

// NewNotifier creates a session notifier.
func NewNotifier(schedule ScheduleSource, streams LivestreamSource, guild Messenger, clk clock.Clock, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Notifier{
		schedule: schedule,
		streams:  streams,
		guild:    guild,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		notified: make(map[string]struct{}),
	}
}

// Run evaluates the schedule once per interval until the context is
// canceled.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("session notifier stopping")
			return
		case <-ticker.C:
			if err := n.Tick(); err != nil {
				n.logger.Error("session notification tick", zap.Error(err))
			}
		}
	}
}

// Tick evaluates one notification round. A session is due when the current
// time has entered its lead window and it was not notified before.
// Multi-room events (announcements, breaks mirrored into every room) are
// skipped.
func (n *Notifier) Tick() error {
	now := n.clock.Now()

	var due []models.Session
	for _, session := range n.schedule.UpcomingSessions(now, n.cfg.Lead) {
		if _, ok := n.notified[session.Identity()]; ok {
			continue
		}
		if len(session.Rooms) != 1 {
			continue
		}
		due = append(due, session)
	}
	if len(due) == 0 {
		return nil
	}

	header := fmt.Sprintf("# Sessions starting in %d minutes:", int(n.cfg.Lead.Minutes()))
	if err := n.guild.SendMessage(n.cfg.MainChannel, header); err != nil {
		return fmt.Errorf("post notification header: %w", err)
	}

	var firstErr error
	for _, session := range due {
		// once attempted, a session is never retried: a partial failure must
		// not re-post the successful parts on the next tick
		n.notified[session.Identity()] = struct{}{}

		if err := n.notify(session); err != nil {
			n.logger.Error("notify session",
				zap.String("session", session.Identity()),
				zap.String("title", session.Title),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (n *Notifier) notify(session models.Session) error {
	room := session.Rooms[0]
	day := session.Start.Format(dayFormat)
	livestreamURL, _ := n.streams.URL(room, day)
	embed := sessionEmbed(session, livestreamURL)

	if err := n.guild.SendEmbed(n.cfg.MainChannel, "", embed); err != nil {
		return err
	}

	channel, ok := n.cfg.RoomChannels[strings.ToLower(room)]
	if !ok {
		n.logger.Warn("no notification channel configured for room", zap.String("room", room))
		return nil
	}

	topic := ""
	if livestreamURL != "" {
		topic = fmt.Sprintf("Livestream: [YouTube](%s)", livestreamURL)
	}
	if err := n.guild.SetChannelTopic(channel, topic); err != nil {
		n.logger.Warn("update room channel topic",
			zap.String("channel", channel), zap.Error(err))
	}

	content := fmt.Sprintf("# Starting in %d minutes @ %s", int(n.cfg.Lead.Minutes()), room)
	return n.guild.SendEmbed(channel, content, embed)
}

// PurgeRoomChannels clears every room channel. Used in simulated-time runs
// to avoid piling up rehearsal notifications.
func (n *Notifier) PurgeRoomChannels() {
	for room, channel := range n.cfg.RoomChannels {
		if err := n.guild.PurgeChannel(channel); err != nil {
			n.logger.Warn("purge room channel",
				zap.String("room", room), zap.String("channel", channel), zap.Error(err))
		}
	}
}
