// Package stats reports per-role member counts to organizers.
package stats

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/internal/discord"
)

// Command is the message that triggers a statistics report.
const Command = "!participants"

// GuildService covers the read-only guild queries statistics need.
type GuildService interface {
	RoleMemberCounts() ([]discord.RoleCount, error)
	MemberHasRole(roleIDs []string, roleName string) (bool, error)
}

// Statistics serves the organizer statistics command. Pure read, no state.
type Statistics struct {
	guild         GuildService
	organizerRole string
	logger        *zap.Logger
}

// New creates the statistics service, restricted to the organizer role.
func New(guild GuildService, organizerRole string, logger *zap.Logger) *Statistics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Statistics{guild: guild, organizerRole: organizerRole, logger: logger}
}

// Report returns the member count per role, highest role first.
func (s *Statistics) Report() ([]discord.RoleCount, error) {
	return s.guild.RoleMemberCounts()
}

// FormatReport renders the counts as a Discord message.
func FormatReport(mention string, counts []discord.RoleCount) string {
	lines := make([]string, 0, len(counts)+1)
	lines = append(lines, fmt.Sprintf("%s Participant Statistics:", mention))
	for _, rc := range counts {
		lines = append(lines, fmt.Sprintf("* %d %s", rc.Count, strings.Trim(rc.Name, "<>@")))
	}
	return strings.Join(lines, "\n")
}

// OnMessage handles the statistics command. Registered as a discordgo
// handler; non-organizers are refused silently, with the attempt logged.
func (s *Statistics) OnMessage(session *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if strings.TrimSpace(m.Content) != Command {
		return
	}

	var roleIDs []string
	if m.Member != nil {
		roleIDs = m.Member.Roles
	}
	allowed, err := s.guild.MemberHasRole(roleIDs, s.organizerRole)
	if err != nil {
		s.logger.Error("check organizer role", zap.Error(err))
		return
	}
	if !allowed {
		s.logger.Info("statistics command refused",
			zap.String("user_id", m.Author.ID), zap.String("channel_id", m.ChannelID))
		return
	}

	counts, err := s.Report()
	if err != nil {
		s.logger.Error("collect guild statistics", zap.Error(err))
		return
	}
	reply := FormatReport(m.Author.Mention(), counts)
	if _, err := session.ChannelMessageSend(m.ChannelID, reply); err != nil {
		s.logger.Error("send statistics reply", zap.Error(err))
	}
}
