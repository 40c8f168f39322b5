package registration

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europython/discord-bot/internal/models"
)

type fakeTickets struct {
	byQuery    map[string][]models.Ticket
	afterFetch map[string][]models.Ticket
	refreshErr error
	refreshes  int
}

func (f *fakeTickets) Tickets(order, name string) []models.Ticket {
	return f.byQuery[order+"/"+name]
}

func (f *fakeTickets) Refresh(ctx context.Context) error {
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	if f.afterFetch != nil {
		f.byQuery = f.afterFetch
	}
	return nil
}

type fakeGuild struct {
	roles       map[string][]string
	nicknames   map[string]string
	rolesErr    error
	nicknameErr error
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{roles: make(map[string][]string), nicknames: make(map[string]string)}
}

func (f *fakeGuild) AssignRoles(userID string, roleNames []string) error {
	if f.rolesErr != nil {
		return f.rolesErr
	}
	f.roles[userID] = roleNames
	return nil
}

func (f *fakeGuild) SetNickname(userID, nick string) error {
	if f.nicknameErr != nil {
		return f.nicknameErr
	}
	f.nicknames[userID] = nick
	return nil
}

func newTestFlow(t *testing.T, tickets *fakeTickets, guild *fakeGuild) *Flow {
	t.Helper()
	log, err := NewLog(filepath.Join(t.TempDir(), "registered.txt"), nil)
	require.NoError(t, err)
	return NewFlow(tickets, guild, log, testMapper(), nil)
}

func businessTicket() models.Ticket {
	return models.Ticket{Order: "ABC01", Name: "Jane Doe", Item: "Business", Variation: "Conference"}
}

func TestRegisterAssignsRolesAndNickname(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/Jane Doe": {businessTicket()},
	}}
	guild := newFakeGuild()
	flow := newTestFlow(t, tickets, guild)

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, out.Status)
	assert.Equal(t, []string{"Onsite Participants", "Participants"}, out.Roles)
	assert.Equal(t, "Jane Doe", out.Nickname)
	assert.Equal(t, []string{"Onsite Participants", "Participants"}, guild.roles["111"])
	assert.Equal(t, "Jane Doe", guild.nicknames["111"])
	assert.Zero(t, tickets.refreshes)
}

func TestRegisterRefreshesOnMissAndRetries(t *testing.T) {
	tickets := &fakeTickets{
		byQuery: map[string][]models.Ticket{},
		afterFetch: map[string][]models.Ticket{
			"ABC01/Jane Doe": {businessTicket()},
		},
	}
	flow := newTestFlow(t, tickets, newFakeGuild())

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, out.Status)
	assert.Equal(t, 1, tickets.refreshes)
}

func TestRegisterTicketNotFound(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{}}
	flow := newTestFlow(t, tickets, newFakeGuild())

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusTicketNotFound, out.Status)
}

func TestRegisterRefreshFailureIsTransient(t *testing.T) {
	tickets := &fakeTickets{
		byQuery:    map[string][]models.Ticket{},
		refreshErr: errors.New("pretix down"),
	}
	flow := newTestFlow(t, tickets, newFakeGuild())

	_, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	assert.Error(t, err)
}

func TestRegisterIsIdempotentPerUserAndTicket(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/Jane Doe": {businessTicket()},
	}}
	guild := newFakeGuild()
	flow := newTestFlow(t, tickets, guild)

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	require.Equal(t, StatusRegistered, out.Status)

	// same user again
	out, err = flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRegistered, out.Status)

	// different user, same ticket
	out, err = flow.Register(context.Background(), "222", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRegistered, out.Status)
	assert.NotContains(t, guild.roles, "222")
}

func TestRegisterNoRolesLeavesGuildUntouched(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/Jane Doe": {{Order: "ABC01", Name: "Jane Doe", Item: "Social Event"}},
	}}
	guild := newFakeGuild()
	flow := newTestFlow(t, tickets, guild)

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusNoRoles, out.Status)
	assert.Empty(t, guild.roles)
	assert.Empty(t, guild.nicknames)

	// a no-role outcome must not consume the ticket
	assert.False(t, flow.log.IsUserRegistered("111"))
}

func TestRegisterNicknameFailureIsNotFatal(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/Jane Doe": {businessTicket()},
	}}
	guild := newFakeGuild()
	guild.nicknameErr = errors.New("missing permissions")
	flow := newTestFlow(t, tickets, guild)

	out, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, out.Status)
	assert.Equal(t, []string{"Onsite Participants", "Participants"}, guild.roles["111"])
}

func TestRegisterRoleFailureIsTransient(t *testing.T) {
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/Jane Doe": {businessTicket()},
	}}
	guild := newFakeGuild()
	guild.rolesErr = errors.New("discord 500")
	flow := newTestFlow(t, tickets, guild)

	_, err := flow.Register(context.Background(), "111", "ABC01", "Jane Doe")
	require.Error(t, err)

	// nothing recorded, so a resubmit can succeed
	assert.False(t, flow.log.IsUserRegistered("111"))
}

func TestRegisterTruncatesLongNicknames(t *testing.T) {
	longName := strings.Repeat("Jane ", 10) + "Doe"
	ticket := models.Ticket{Order: "ABC01", Name: longName, Item: "Business"}
	tickets := &fakeTickets{byQuery: map[string][]models.Ticket{
		"ABC01/" + longName: {ticket},
	}}
	guild := newFakeGuild()
	flow := newTestFlow(t, tickets, guild)

	out, err := flow.Register(context.Background(), "111", "ABC01", longName)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, out.Status)
	assert.Len(t, []rune(out.Nickname), maxNicknameLen)
	assert.Equal(t, out.Nickname, guild.nicknames["111"])
}
