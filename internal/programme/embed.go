package programme

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/europython/discord-bot/internal/models"
)

const (
	authorWidth = 128
	titleWidth  = 128
	tweetWidth  = 200

	emptyFieldValue = "—"
)

// Embed colors per expected audience level.
const (
	colorAdvanced     = 0xD34847
	colorIntermediate = 0xFFCD45
	colorBeginner     = 0x63D452
)

// sessionEmbed renders a session as a Discord embed for the notification
// channels.
func sessionEmbed(session models.Session, livestreamURL string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       shorten(session.Title, titleWidth),
		Description: embedDescription(session),
		URL:         session.WebsiteURL,
		Color:       levelColor(session.Level),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Start Time", Value: discordTimestamp(session), Inline: true},
			{Name: "Room", Value: orEmpty(strings.Join(session.Rooms, ", ")), Inline: true},
			{Name: "Track", Value: orEmpty(session.Track), Inline: true},
			{Name: "Duration", Value: fmt.Sprintf("%d minutes", session.Duration), Inline: true},
			{Name: "Livestream", Value: livestreamField(livestreamURL), Inline: true},
			{Name: "Level", Value: capitalize(session.Level), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("This session starts at %s (local conference time)",
				session.Start.Format("15:04:05")),
		},
	}

	if author := embedAuthor(session.Speakers); author != nil {
		embed.Author = author
	}
	return embed
}

// embedAuthor folds all speakers into a single embed author: joined names,
// the first available avatar, and the first speaker's website.
func embedAuthor(speakers []models.Speaker) *discordgo.MessageEmbedAuthor {
	if len(speakers) == 0 {
		return nil
	}
	names := make([]string, len(speakers))
	for i, speaker := range speakers {
		names[i] = speaker.Name
	}
	author := &discordgo.MessageEmbedAuthor{
		Name: shorten(strings.Join(names, ", "), authorWidth),
		URL:  speakers[0].WebsiteURL,
	}
	for _, speaker := range speakers {
		if speaker.Avatar != "" {
			author.IconURL = speaker.Avatar
			break
		}
	}
	return author
}

func embedDescription(session models.Session) string {
	if session.Tweet == "" {
		return ""
	}
	return fmt.Sprintf("%s\n\n[Read more about this session](%s)",
		shorten(session.Tweet, tweetWidth), session.WebsiteURL)
}

// discordTimestamp renders the start time with Discord's timestamp markup,
// so every reader sees it in their own timezone.
func discordTimestamp(session models.Session) string {
	return fmt.Sprintf("<t:%d:f>", session.Start.Unix())
}

func livestreamField(url string) string {
	if url == "" {
		return emptyFieldValue
	}
	return fmt.Sprintf("[YouTube](%s)", url)
}

func levelColor(level string) int {
	switch strings.ToLower(level) {
	case "advanced":
		return colorAdvanced
	case "intermediate":
		return colorIntermediate
	default:
		return colorBeginner
	}
}

// shorten truncates at a word boundary and marks the cut, like the original
// notification texts do.
func shorten(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	const marker = " [...]"
	cut := width - len([]rune(marker))
	if cut < 1 {
		cut = 1
	}
	truncated := strings.TrimRight(string(runes[:cut]), " ")
	if i := strings.LastIndexByte(truncated, ' '); i > 0 {
		truncated = truncated[:i]
	}
	return truncated + marker
}

func orEmpty(s string) string {
	if s == "" {
		return emptyFieldValue
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
