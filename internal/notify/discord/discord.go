// Package discord posts report notifications to a Discord channel.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/switchyard-ci/switchyard/internal/notify"
)

// maxEmbedDescription is Discord's embed description limit.
const maxEmbedDescription = 4096

// session abstracts the discordgo.Session methods we use, enabling test
// mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendEmbed(channelID, embed, options...)
}

// Adapter implements notify.Adapter for Discord.
type Adapter struct {
	sess      session
	channelID string
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // channel to post to
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Adapter and opens the gateway connection.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}

	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages
		sess = &realSession{s: dg}
	}
	if err := sess.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}

	return &Adapter{sess: sess, channelID: opts.ChannelID}, nil
}

func (a *Adapter) Name() string { return "discord" }

// Send posts the notification as a colored embed. discordgo retries rate
// limits internally.
func (a *Adapter) Send(ctx context.Context, n notify.Notification) error {
	embed := &discordgo.MessageEmbed{
		Title:       n.Subject,
		Description: truncate(n.Body, maxEmbedDescription),
		Color:       colorValue(n.Color),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}

	if _, err := a.sess.ChannelMessageSendEmbed(a.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

// Close shuts down the gateway connection.
func (a *Adapter) Close() error {
	if err := a.sess.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	return nil
}

// colorValue parses a "#rrggbb" color hint into Discord's integer form.
func colorValue(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
