package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/thread-relay/internal/aigateway"
	appconfig "github.com/wolfman30/thread-relay/internal/config"
	"github.com/wolfman30/thread-relay/internal/dedup"
	"github.com/wolfman30/thread-relay/internal/dispatch"
	"github.com/wolfman30/thread-relay/internal/intent"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/internal/slackclient"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// BotIdentity resolves the bot's own user id.
type BotIdentity interface {
	BotUserID(ctx context.Context) (string, error)
}

// BuildChatClient creates the Slack Web API client.
func BuildChatClient(cfg *appconfig.Config, logger *logging.Logger, m *metrics.RelayMetrics) (*slackclient.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	return slackclient.New(slackclient.Config{
		Token:   cfg.BotToken,
		APIURL:  cfg.SlackAPIURL,
		Logger:  logger,
		Metrics: m,
	})
}

// ResolveBotUserID prefers BOT_USER_ID and falls back to asking the platform.
// An empty result means mention stripping falls back to the first user mention.
func ResolveBotUserID(ctx context.Context, cfg *appconfig.Config, identity BotIdentity, logger *logging.Logger) string {
	if cfg != nil && cfg.BotUserID != "" {
		return cfg.BotUserID
	}
	if identity == nil {
		return ""
	}
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id, err := identity.BotUserID(ctx)
	if err != nil {
		logger.Warn("could not resolve bot user id", "error", err)
		return ""
	}
	logger.Info("resolved bot user id", "bot_user_id", id)
	return id
}

// BuildPool wires classifier, AI gateway and dispatcher behind a worker pool.
func BuildPool(cfg *appconfig.Config, store dedup.Store, chat dispatch.ChatClient, botUserID string, logger *logging.Logger, m *metrics.RelayMetrics) (*dispatch.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	gateway, err := aigateway.New(aigateway.Config{
		Endpoint: cfg.AIEndpoint,
		APIKey:   cfg.AIAPIKey,
		Timeout:  cfg.AITimeout,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ai gateway: %w", err)
	}

	dispatcher := dispatch.New(
		dedup.New(store, logger, m),
		intent.NewClassifier(cfg.KeywordRules, botUserID),
		gateway,
		chat,
		logger,
		dispatch.WithProcessingNotice(cfg.EmitProcessingNotice),
		dispatch.WithReactions(cfg.EmitReactions),
		dispatch.WithMetrics(m),
	)
	return dispatch.NewPool(dispatcher, logger,
		dispatch.WithWorkerCount(cfg.WorkerCount),
		dispatch.WithQueueSize(cfg.QueueSize),
		dispatch.WithEventTimeout(cfg.EventTimeout),
		dispatch.WithPoolMetrics(m),
	), nil
}
