// Package discord wraps the discordgo session with the small set of guild
// operations the bot needs: channel messaging, role assignment, member
// enumeration. Callers depend on interfaces over this type, so the rest of
// the bot never touches discordgo's REST surface directly.
package discord

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// membersPageSize is Discord's maximum page size for member enumeration.
const membersPageSize = 1000

// RoleCount is the member count of one guild role.
type RoleCount struct {
	Name     string `json:"name"`
	Position int    `json:"-"`
	Count    int    `json:"count"`
}

// Guild provides guild-scoped operations on a single Discord server.
type Guild struct {
	session *discordgo.Session
	guildID string
	logger  *zap.Logger

	mu       sync.Mutex
	channels map[string]string // channel name -> channel ID
	roles    map[string]string // role name -> role ID
}

// NewGuild creates a guild wrapper for the configured server.
func NewGuild(session *discordgo.Session, guildID string, logger *zap.Logger) *Guild {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guild{
		session:  session,
		guildID:  guildID,
		logger:   logger,
		channels: make(map[string]string),
		roles:    make(map[string]string),
	}
}

// ChannelID resolves a channel name to its ID, caching the guild channel
// list on first use.
func (g *Guild) ChannelID(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.channels[name]; ok {
		return id, nil
	}

	channels, err := g.session.GuildChannels(g.guildID)
	if err != nil {
		return "", fmt.Errorf("list guild channels: %w", err)
	}
	for _, channel := range channels {
		g.channels[channel.Name] = channel.ID
	}
	if id, ok := g.channels[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("channel %q not found in guild %s", name, g.guildID)
}

// RoleID resolves a role name to its ID, caching the guild role list on
// first use.
func (g *Guild) RoleID(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.roles[name]; ok {
		return id, nil
	}

	roles, err := g.session.GuildRoles(g.guildID)
	if err != nil {
		return "", fmt.Errorf("list guild roles: %w", err)
	}
	for _, role := range roles {
		g.roles[role.Name] = role.ID
	}
	if id, ok := g.roles[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("role %q not found in guild %s", name, g.guildID)
}

// SendMessage posts a plain message to a channel identified by name.
func (g *Guild) SendMessage(channel, content string) error {
	id, err := g.ChannelID(channel)
	if err != nil {
		return err
	}
	if _, err := g.session.ChannelMessageSend(id, content); err != nil {
		return fmt.Errorf("send message to #%s: %w", channel, err)
	}
	return nil
}

// SendEmbed posts a message with an embed to a channel identified by name.
func (g *Guild) SendEmbed(channel, content string, embed *discordgo.MessageEmbed) error {
	id, err := g.ChannelID(channel)
	if err != nil {
		return err
	}
	_, err = g.session.ChannelMessageSendComplex(id, &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		return fmt.Errorf("send embed to #%s: %w", channel, err)
	}
	return nil
}

// SendComplex posts an arbitrary message (components, embeds) to a channel.
func (g *Guild) SendComplex(channel string, data *discordgo.MessageSend) error {
	id, err := g.ChannelID(channel)
	if err != nil {
		return err
	}
	if _, err := g.session.ChannelMessageSendComplex(id, data); err != nil {
		return fmt.Errorf("send message to #%s: %w", channel, err)
	}
	return nil
}

// SetChannelTopic updates a channel topic.
func (g *Guild) SetChannelTopic(channel, topic string) error {
	id, err := g.ChannelID(channel)
	if err != nil {
		return err
	}
	if _, err := g.session.ChannelEditComplex(id, &discordgo.ChannelEdit{Topic: topic}); err != nil {
		return fmt.Errorf("edit topic of #%s: %w", channel, err)
	}
	return nil
}

// PurgeChannel deletes all messages in a channel, in bulk where possible.
func (g *Guild) PurgeChannel(channel string) error {
	id, err := g.ChannelID(channel)
	if err != nil {
		return err
	}
	for {
		messages, err := g.session.ChannelMessages(id, 100, "", "", "")
		if err != nil {
			return fmt.Errorf("list messages in #%s: %w", channel, err)
		}
		if len(messages) == 0 {
			return nil
		}
		ids := make([]string, len(messages))
		for i, message := range messages {
			ids[i] = message.ID
		}
		if err := g.session.ChannelMessagesBulkDelete(id, ids); err != nil {
			return fmt.Errorf("bulk delete in #%s: %w", channel, err)
		}
	}
}

// AssignRoles grants the named roles to a guild member.
func (g *Guild) AssignRoles(userID string, roleNames []string) error {
	for _, name := range roleNames {
		roleID, err := g.RoleID(name)
		if err != nil {
			return err
		}
		if err := g.session.GuildMemberRoleAdd(g.guildID, userID, roleID); err != nil {
			return fmt.Errorf("assign role %q to %s: %w", name, userID, err)
		}
	}
	return nil
}

// SetNickname changes a guild member's nickname.
func (g *Guild) SetNickname(userID, nick string) error {
	if err := g.session.GuildMemberNickname(g.guildID, userID, nick); err != nil {
		return fmt.Errorf("set nickname of %s: %w", userID, err)
	}
	return nil
}

// MemberHasRole reports whether any of the member's role IDs matches the
// named role.
func (g *Guild) MemberHasRole(roleIDs []string, roleName string) (bool, error) {
	want, err := g.RoleID(roleName)
	if err != nil {
		return false, err
	}
	for _, id := range roleIDs {
		if id == want {
			return true, nil
		}
	}
	return false, nil
}

// RoleMemberCounts enumerates all guild members and counts them per role,
// ordered from the highest role position to the lowest.
func (g *Guild) RoleMemberCounts() ([]RoleCount, error) {
	roles, err := g.session.GuildRoles(g.guildID)
	if err != nil {
		return nil, fmt.Errorf("list guild roles: %w", err)
	}

	countsByID := make(map[string]*RoleCount, len(roles))
	ordered := make([]*RoleCount, 0, len(roles))
	for _, role := range roles {
		rc := &RoleCount{Name: role.Name, Position: role.Position}
		countsByID[role.ID] = rc
		ordered = append(ordered, rc)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position > ordered[j].Position })

	after := ""
	for {
		members, err := g.session.GuildMembers(g.guildID, after, membersPageSize)
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		if len(members) == 0 {
			break
		}
		for _, member := range members {
			for _, roleID := range member.Roles {
				if rc, ok := countsByID[roleID]; ok {
					rc.Count++
				}
			}
		}
		after = members[len(members)-1].User.ID
		if len(members) < membersPageSize {
			break
		}
	}

	out := make([]RoleCount, len(ordered))
	for i, rc := range ordered {
		out[i] = *rc
	}
	return out, nil
}
