package registration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/europython/discord-bot/internal/models"
)

// TicketService answers ticket lookups and can refresh the underlying cache.
type TicketService interface {
	Tickets(order, name string) []models.Ticket
	Refresh(ctx context.Context) error
}

// GuildService covers the guild mutations a registration needs.
type GuildService interface {
	AssignRoles(userID string, roleNames []string) error
	SetNickname(userID, nick string) error
}

// Status classifies the outcome of a registration attempt.
type Status int

const (
	// StatusRegistered means roles were assigned and the attempt was logged.
	StatusRegistered Status = iota
	// StatusTicketNotFound means no ticket matched the order ID and name.
	StatusTicketNotFound
	// StatusAlreadyRegistered means the user or ticket registered before.
	StatusAlreadyRegistered
	// StatusNoRoles means tickets matched but none maps to a role, e.g. a
	// social event ticket.
	StatusNoRoles
)

// Outcome describes a completed registration attempt.
type Outcome struct {
	Status   Status
	Tickets  []models.Ticket
	Roles    []string
	Nickname string
}

// maxNicknameLen is Discord's nickname length limit.
const maxNicknameLen = 32

// Flow orchestrates one registration attempt: ticket lookup, idempotency
// check, role resolution, guild mutations, and the log append.
type Flow struct {
	tickets TicketService
	guild   GuildService
	log     *Log
	mapper  *RoleMapper
	logger  *zap.Logger
}

// NewFlow creates a registration flow.
func NewFlow(tickets TicketService, guild GuildService, log *Log, mapper *RoleMapper, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{tickets: tickets, guild: guild, log: log, mapper: mapper, logger: logger}
}

// Register runs one registration attempt for a Discord user. A non-nil error
// means a transient failure (Pretix or Discord unreachable); the user may
// simply resubmit the form.
func (f *Flow) Register(ctx context.Context, userID, order, name string) (Outcome, error) {
	if f.log.IsUserRegistered(userID) {
		return Outcome{Status: StatusAlreadyRegistered}, nil
	}

	tickets := f.tickets.Tickets(order, name)
	if len(tickets) == 0 {
		// the ticket may have been bought after the last fetch
		if err := f.tickets.Refresh(ctx); err != nil {
			return Outcome{}, fmt.Errorf("refresh tickets: %w", err)
		}
		tickets = f.tickets.Tickets(order, name)
	}
	if len(tickets) == 0 {
		return Outcome{Status: StatusTicketNotFound}, nil
	}

	keys := make([]string, len(tickets))
	for i, ticket := range tickets {
		keys[i] = ticket.Key()
	}
	for _, key := range keys {
		if f.log.IsTicketRegistered(key) {
			return Outcome{Status: StatusAlreadyRegistered, Tickets: tickets}, nil
		}
	}

	roles := f.mapper.Resolve(tickets)
	if len(roles) == 0 {
		return Outcome{Status: StatusNoRoles, Tickets: tickets}, nil
	}

	nickname := truncate(tickets[0].Name, maxNicknameLen)
	if err := f.guild.SetNickname(userID, nickname); err != nil {
		// admins and users above the bot role cannot be renamed
		f.logger.Warn("set nickname failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	if err := f.guild.AssignRoles(userID, roles); err != nil {
		return Outcome{}, fmt.Errorf("assign roles: %w", err)
	}

	if err := f.log.Record(userID, keys, time.Now()); err != nil {
		// roles are already assigned; losing the log entry is the accepted
		// best-effort gap, but it must be visible to operators
		f.logger.Error("record registration failed",
			zap.String("user_id", userID), zap.Strings("ticket_keys", keys), zap.Error(err))
	}

	return Outcome{
		Status:   StatusRegistered,
		Tickets:  tickets,
		Roles:    roles,
		Nickname: nickname,
	}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
