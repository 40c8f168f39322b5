package registration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/config"
)

const (
	registerButtonID = "registration-open"
	registerModalID  = "registration-submit"
	orderFieldID     = "order"
	nameFieldID      = "name"

	registerButtonLabel = "Register here \U0001F448"
	welcomeTitle        = "## Welcome to the conference Discord! :tada:"

	// handlerTimeout bounds one registration attempt, including a possible
	// Pretix refresh.
	handlerTimeout = 30 * time.Second
)

// ChannelService covers the channel operations the registration glue needs.
type ChannelService interface {
	SendMessage(channel, content string) error
	SendComplex(channel string, data *discordgo.MessageSend) error
	PurgeChannel(channel string) error
}

// Handler wires the registration flow to Discord interactions: it posts the
// welcome message with the registration button, opens the ticket form, and
// translates flow outcomes into user-facing replies.
type Handler struct {
	flow     *Flow
	channels ChannelService
	cfg      config.RegistrationConfig
	logger   *zap.Logger
}

// NewHandler creates the registration interaction handler.
func NewHandler(flow *Flow, channels ChannelService, cfg config.RegistrationConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{flow: flow, channels: channels, cfg: cfg, logger: logger}
}

// PostWelcome replaces the registration channel content with the welcome
// message and the registration button.
func (h *Handler) PostWelcome() error {
	if err := h.channels.PurgeChannel(h.cfg.FormChannel); err != nil {
		return fmt.Errorf("purge registration channel: %w", err)
	}

	welcome := strings.Join([]string{
		welcomeTitle,
		"",
		"Follow these steps to complete your registration:",
		"",
		fmt.Sprintf(":one: Click the green %q button below.", registerButtonLabel),
		"",
		":two: Fill in the Order ID and the name printed on your ticket or badge.",
		"",
		":three: Click \"Submit\".",
		"",
		fmt.Sprintf("Experiencing trouble? Ask for help in #%s.", h.cfg.HelpChannel),
	}, "\n")

	return h.channels.SendComplex(h.cfg.FormChannel, &discordgo.MessageSend{
		Content: welcome,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Style:    discordgo.SuccessButton,
						Label:    registerButtonLabel,
						CustomID: registerButtonID,
					},
				},
			},
		},
	})
}

// PostOffline replaces the registration form with an offline notice. Called
// on shutdown so attendees do not press a dead button.
func (h *Handler) PostOffline() error {
	if err := h.channels.PurgeChannel(h.cfg.FormChannel); err != nil {
		return fmt.Errorf("purge registration channel: %w", err)
	}
	return h.channels.SendMessage(h.cfg.FormChannel,
		welcomeTitle+"\nThe registration bot is currently offline. "+
			"We apologize for the inconvenience and are working on it.")
}

// OnInteraction dispatches component and modal interactions. Registered as a
// discordgo handler.
func (h *Handler) OnInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID == registerButtonID {
			h.openForm(s, i)
		}
	case discordgo.InteractionModalSubmit:
		if i.ModalSubmitData().CustomID == registerModalID {
			h.handleSubmit(s, i)
		}
	}
}

func (h *Handler) openForm(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: registerModalID,
			Title:    "Conference Registration",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    orderFieldID,
						Label:       "Order ID (as printed on your ticket)",
						Style:       discordgo.TextInputShort,
						Placeholder: "Like '#XXXXX-X' or 'XXXXX'",
						Required:    true,
						MinLength:   5,
						MaxLength:   9,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    nameFieldID,
						Label:       "Name (as printed on your ticket)",
						Style:       discordgo.TextInputShort,
						Placeholder: "Like 'Jane Doe'",
						Required:    true,
						MinLength:   1,
						MaxLength:   50,
					},
				}},
			},
		},
	})
	if err != nil {
		h.logger.Error("open registration form", zap.Error(err))
	}
}

func (h *Handler) handleSubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// registration may need a Pretix refresh, so acknowledge first and
	// deliver the result as a follow-up
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		h.logger.Error("acknowledge registration submit", zap.Error(err))
		return
	}

	order, name := modalValues(i)
	user := interactionUser(i)
	attemptID := uuid.NewString()
	logger := h.logger.With(
		zap.String("attempt_id", attemptID),
		zap.String("user_id", user),
		zap.String("order", order))

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	outcome, err := h.flow.Register(ctx, user, order, name)
	if err != nil {
		logger.Error("registration attempt failed", zap.Error(err))
		h.logToChannel(":x: **%s ERROR** attempt=%s\n%v", mention(user), attemptID, err)
		h.followUp(s, i, "Something went wrong on our side. Please try again in a few minutes.")
		return
	}

	switch outcome.Status {
	case StatusRegistered:
		logger.Info("registration successful",
			zap.Strings("roles", outcome.Roles), zap.String("nickname", outcome.Nickname))
		h.logToChannel(":white_check_mark: **%s REGISTERED**\nname=%q order=%q roles=%v",
			mention(user), name, order, outcome.Roles)
		h.followUp(s, i, fmt.Sprintf(
			"Thank you %s, you are now registered!\n\n"+
				"Your nickname was changed to the name on your ticket, "+
				"so it can serve as your virtual conference badge.", outcome.Nickname))
	case StatusTicketNotFound:
		logger.Info("no ticket found")
		h.logToChannel(":x: **%s ERROR** attempt=%s\nNo ticket found: order=%q name=%q",
			mention(user), attemptID, order, name)
		h.followUp(s, i,
			"We cannot find your ticket. Please double check your input and try again.\n\n"+
				"If you just bought your ticket, try again in a few minutes.")
	case StatusAlreadyRegistered:
		logger.Info("already registered")
		h.logToChannel(":x: **%s ERROR** attempt=%s\nAlready registered: order=%q name=%q",
			mention(user), attemptID, order, name)
		h.followUp(s, i, "You have already registered.")
	case StatusNoRoles:
		logger.Info("tickets without role assignments",
			zap.Int("tickets", len(outcome.Tickets)))
		h.logToChannel(":x: **%s ERROR** attempt=%s\nTickets without roles: order=%q name=%q",
			mention(user), attemptID, order, name)
		h.followUp(s, i,
			"No conference ticket found. Did you use another ticket (e.g. Social Event)?")
	}
}

func (h *Handler) followUp(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	message += fmt.Sprintf("\n\nIf you need help, contact us in #%s.", h.cfg.HelpChannel)
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: message,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		h.logger.Error("send registration reply", zap.Error(err))
	}
}

// logToChannel posts to the registration log channel, where organizers watch
// for failed attempts. Failures to post are logged and swallowed.
func (h *Handler) logToChannel(format string, args ...any) {
	if err := h.channels.SendMessage(h.cfg.LogChannel, fmt.Sprintf(format, args...)); err != nil {
		h.logger.Warn("post to registration log channel", zap.Error(err))
	}
}

func modalValues(i *discordgo.InteractionCreate) (order, name string) {
	for _, component := range i.ModalSubmitData().Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			input, ok := inner.(*discordgo.TextInput)
			if !ok {
				continue
			}
			switch input.CustomID {
			case orderFieldID:
				order = strings.TrimSpace(input.Value)
			case nameFieldID:
				name = strings.TrimSpace(input.Value)
			}
		}
	}
	return order, name
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
