package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts each event as a message through a Discord channel webhook.
// No bot login is needed; the webhook token authorizes the post.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscord(webhookURL string) (*Discord, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("parse discord webhook: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "webhooks" {
		return nil, fmt.Errorf("discord webhook %q: want .../webhooks/<id>/<token>", webhookURL)
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.UserAgent = "coursesync-webhook/1"
	return &Discord{session: s, id: parts[len(parts)-2], token: parts[len(parts)-1]}, nil
}

func (d *Discord) Notify(ctx context.Context, events ...Event) error {
	for _, e := range events {
		_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
			Username: "coursesync",
			Content:  Format(e),
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord webhook %s: %w", e.Type, err)
		}
	}
	return nil
}

// Format renders an event as a one-line message.
func Format(e Event) string {
	title := e.Title
	if title == "" {
		title = e.DiscussionID
	}
	switch e.Type {
	case EventMilestone:
		return fmt.Sprintf("**%s** (%s) reached %d replies", title, e.CourseID, e.ReplyCount)
	default:
		return fmt.Sprintf("New reply on **%s** (%s), %d so far", title, e.CourseID, e.ReplyCount)
	}
}

// Multi fans events out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, events ...Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
