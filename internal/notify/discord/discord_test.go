package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/switchyard-ci/switchyard/internal/notify"
)

// mockSession implements session for tests.
type mockSession struct {
	openErr  error
	sendErr  error
	closed   bool
	channels []string
	embeds   []*discordgo.MessageEmbed
}

func (m *mockSession) Open() error { return m.openErr }

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.channels = append(m.channels, channelID)
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{ID: "1"}, nil
}

func TestNewValidation(t *testing.T) {
	if _, err := New(AdapterOpts{ChannelID: "123"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := New(AdapterOpts{Session: &mockSession{}}); err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestNewOpensGateway(t *testing.T) {
	mock := &mockSession{openErr: errors.New("401: Unauthorized")}
	if _, err := New(AdapterOpts{ChannelID: "123", Session: mock}); err == nil {
		t.Fatal("expected gateway open failure to surface")
	}

	a, err := New(AdapterOpts{ChannelID: "123", Session: &mockSession{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "discord" {
		t.Errorf("Name = %q", a.Name())
	}
}

func TestSend(t *testing.T) {
	mock := &mockSession{}
	a, err := New(AdapterOpts{ChannelID: "123", Session: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := notify.Notification{
		Subject: "Build failed",
		Body:    "BUILD FAILED: compile",
		Color:   "#d00000",
		Fields:  []notify.Field{{Name: "linux", Value: "failure", Short: true}},
	}
	if err := a.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(mock.channels) != 1 || mock.channels[0] != "123" {
		t.Fatalf("channels = %v", mock.channels)
	}
	embed := mock.embeds[0]
	if embed.Title != "Build failed" {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != 0xd00000 {
		t.Errorf("Color = %#x, want %#x", embed.Color, 0xd00000)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Name != "linux" || !embed.Fields[0].Inline {
		t.Errorf("Fields = %+v", embed.Fields)
	}
}

func TestSendTruncatesBody(t *testing.T) {
	mock := &mockSession{}
	a, err := New(AdapterOpts{ChannelID: "123", Session: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	long := strings.Repeat("x", maxEmbedDescription+100)
	if err := a.Send(context.Background(), notify.Notification{Body: long}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := len(mock.embeds[0].Description); got != maxEmbedDescription {
		t.Fatalf("description length = %d, want %d", got, maxEmbedDescription)
	}
}

func TestSendError(t *testing.T) {
	mock := &mockSession{sendErr: errors.New("missing access")}
	a, err := New(AdapterOpts{ChannelID: "123", Session: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Send(context.Background(), notify.Notification{Subject: "hi"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestColorValue(t *testing.T) {
	cases := map[string]int{
		"#36a64f": 0x36a64f,
		"439fe0":  0x439fe0,
		"nothex":  0,
		"":        0,
	}
	for in, want := range cases {
		if got := colorValue(in); got != want {
			t.Errorf("colorValue(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestClose(t *testing.T) {
	mock := &mockSession{}
	a, err := New(AdapterOpts{ChannelID: "123", Session: mock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !mock.closed {
		t.Fatal("session not closed")
	}
}
