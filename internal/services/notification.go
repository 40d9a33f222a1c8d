package services

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
)

// NotificationSink delivers a formatted message. Delivery is best effort:
// failures are logged and reported through the return value only.
type NotificationSink interface {
	Send(ctx context.Context, text string) bool
}

// NotificationStats counts delivery outcomes.
type NotificationStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// TelegramNotifier posts Markdown messages to a single Telegram chat.
type TelegramNotifier struct {
	bot     *bot.Bot
	chatID  any
	timeout time.Duration
	logger  *logrus.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewTelegramNotifier creates a notifier for cfg. Extra bot options are
// appended after the defaults.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *logrus.Logger, opts ...bot.Option) (*TelegramNotifier, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}

	options := append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &TelegramNotifier{
		bot:     b,
		chatID:  parseChatID(cfg.ChatID),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// parseChatID keeps channel usernames as strings and numeric ids as int64.
func parseChatID(raw string) any {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id
	}
	return raw
}

// Send posts text to the configured chat.
func (n *TelegramNotifier) Send(ctx context.Context, text string) bool {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		n.failed.Add(1)
		n.logger.WithError(err).Warn("Failed to send telegram message")
		return false
	}

	n.sent.Add(1)
	n.logger.Debug("Telegram message sent")
	return true
}

// GetStats returns delivery counters.
func (n *TelegramNotifier) GetStats() NotificationStats {
	return NotificationStats{Sent: n.sent.Load(), Failed: n.failed.Load()}
}

// NoopSink drops messages. It is used when Telegram is not configured.
type NoopSink struct {
	logger *logrus.Logger
}

func NewNoopSink(logger *logrus.Logger) *NoopSink {
	return &NoopSink{logger: logger}
}

func (s *NoopSink) Send(_ context.Context, text string) bool {
	s.logger.WithField("length", len(text)).Info("Telegram not configured; skipping send")
	return false
}

// NewNotificationSink returns a Telegram notifier when configured and a
// NoopSink otherwise.
func NewNotificationSink(cfg config.TelegramConfig, logger *logrus.Logger) NotificationSink {
	if !cfg.Enabled() {
		return NewNoopSink(logger)
	}
	n, err := NewTelegramNotifier(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("Telegram notifier unavailable, notifications disabled")
		return NewNoopSink(logger)
	}
	return n
}
