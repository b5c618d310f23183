// Package slack posts report notifications to a Slack channel via the Web
// API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/switchyard-ci/switchyard/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter implements notify.Adapter for Slack.
type Adapter struct {
	client    slackClient
	channelID string
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // channel to post to
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Adapter and verifies the token.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}

	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	if _, err := client.AuthTest(); err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	return &Adapter{client: client, channelID: opts.ChannelID}, nil
}

func (a *Adapter) Name() string { return "slack" }

// Send posts the notification as an attachment with a severity-colored
// sidebar.
func (a *Adapter) Send(ctx context.Context, n notify.Notification) error {
	attachment := slackapi.Attachment{
		Title: n.Subject,
		Text:  n.Body,
		Color: n.Color,
	}
	for _, f := range n.Fields {
		attachment.Fields = append(attachment.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(a.channelID,
			slackapi.MsgOptionText(n.Subject, false),
			slackapi.MsgOptionAttachments(attachment),
		)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close is a no-op; the Web API client holds no connection.
func (a *Adapter) Close() error { return nil }

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. Other errors are returned immediately.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
