// Package slack posts operator notifications and the job board to Slack.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
)

// ChannelSlack names ads posted to the Slack job board.
const ChannelSlack = "slack"

// slackAPI is the subset of *slack.Client the integration calls.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	DeleteMessageContext(ctx context.Context, channelID, timestamp string) (string, string, error)
}

type Config struct {
	// OpsChannel receives operator notifications. Empty disables them.
	OpsChannel string
	// BoardChannel receives job ads. Empty disables the board.
	BoardChannel string
	Logger       *slog.Logger
}

// Client is both a notify.Notifier and a dispatch.Advertiser.
type Client struct {
	api slackAPI
	cfg Config
}

// New wraps api, usually slack.New(botToken).
func New(api slackAPI, cfg Config) (*Client, error) {
	if api == nil {
		return nil, errors.New("slack: api must not be nil")
	}
	cfg.OpsChannel = strings.TrimSpace(cfg.OpsChannel)
	cfg.BoardChannel = strings.TrimSpace(cfg.BoardChannel)
	if cfg.OpsChannel == "" && cfg.BoardChannel == "" {
		return nil, errors.New("slack: at least one channel must be configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{api: api, cfg: cfg}, nil
}

func (c *Client) Notify(ctx context.Context, sev notify.Severity, msg string) {
	if c.cfg.OpsChannel == "" {
		return
	}
	if _, _, err := c.api.PostMessageContext(ctx, c.cfg.OpsChannel, slack.MsgOptionText(notify.Frame(sev, msg), false)); err != nil {
		c.cfg.Logger.Warn("failed to post slack notification", "channel", c.cfg.OpsChannel, "severity", sev, "err", err)
	}
}

// Advertise posts the ad to the board channel.
func (c *Client) Advertise(ctx context.Context, job domain.Job, text string) ([]dispatch.Ad, error) {
	if c.cfg.BoardChannel == "" {
		return nil, nil
	}
	channelID, ts, err := c.api.PostMessageContext(ctx, c.cfg.BoardChannel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return nil, fmt.Errorf("slack: post ad for job %s: %w", job.ID, err)
	}
	return []dispatch.Ad{{Channel: ChannelSlack, Recipient: channelID, Ref: ts}}, nil
}

// Withdraw deletes board posts. Ads from other channels are ignored.
func (c *Client) Withdraw(ctx context.Context, ads []dispatch.Ad) error {
	var errs []error
	for _, ad := range ads {
		if ad.Channel != ChannelSlack || ad.Ref == "" {
			continue
		}
		channelID := ad.Recipient
		if channelID == "" {
			channelID = c.cfg.BoardChannel
		}
		if _, _, err := c.api.DeleteMessageContext(ctx, channelID, ad.Ref); err != nil {
			errs = append(errs, fmt.Errorf("slack: delete ad %s: %w", ad.Ref, err))
		}
	}
	return errors.Join(errs...)
}
