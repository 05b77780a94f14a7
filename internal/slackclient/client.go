// Package slackclient posts replies and reactions through the Slack Web API.
package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

const maxRateLimitWait = 5 * time.Second

// Config controls how the Slack client behaves.
type Config struct {
	Token string
	// APIURL overrides the Web API base, e.g. for tests or an egress proxy.
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.RelayMetrics
}

// Client is the relay's view of the chat platform.
type Client struct {
	api     *slack.Client
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slackclient: bot token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if u := strings.TrimSpace(cfg.APIURL); u != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(u, "/")+"/"))
	}
	return &Client{
		api:     slack.New(cfg.Token, opts...),
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// PostMessage posts text into the thread rooted at threadTS and returns the new message ts.
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	var ts string
	err := c.call(ctx, "post_message", func() error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channel, opts...)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("slackclient: post message: %w", err)
	}
	return ts, nil
}

// UpdateMessage replaces the text of a message the bot posted earlier.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	err := c.call(ctx, "update_message", func() error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return fmt.Errorf("slackclient: update message: %w", err)
	}
	return nil
}

// SetReaction adds an emoji reaction. Reacting twice with the same emoji is not an error.
func (c *Client) SetReaction(ctx context.Context, channel, ts, name string) error {
	err := c.call(ctx, "set_reaction", func() error {
		return c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	})
	if err != nil && !isSlackError(err, "already_reacted") {
		return fmt.Errorf("slackclient: add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes an emoji reaction the bot added earlier.
func (c *Client) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	err := c.call(ctx, "remove_reaction", func() error {
		return c.api.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	})
	if err != nil && !isSlackError(err, "no_reaction") {
		return fmt.Errorf("slackclient: remove reaction: %w", err)
	}
	return nil
}

// BotUserID resolves the token's own user id via auth.test.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	var userID string
	err := c.call(ctx, "auth_test", func() error {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			return err
		}
		userID = resp.UserID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("slackclient: auth test: %w", err)
	}
	return userID, nil
}

// call runs fn, retrying once when Slack rate limits the request.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	err := fn()
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait <= 0 || wait > maxRateLimitWait {
			wait = maxRateLimitWait
		}
		c.logger.Warn("slack rate limited, retrying", "op", op, "retry_after", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.metrics.ObserveChatCall(op, ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
		err = fn()
	}
	c.metrics.ObserveChatCall(op, err)
	return err
}

func isSlackError(err error, code string) bool {
	if err == nil {
		return false
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err == code
	}
	return err.Error() == code
}
