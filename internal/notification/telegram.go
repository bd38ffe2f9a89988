package notification

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// MessageSender is the subset of tgbotapi.BotAPI the notifier uses
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends HTML trade alerts to a chat, gated by a rate limiter
type TelegramNotifier struct {
	bot     MessageSender
	chatID  int64
	limiter *resilience.RateLimiter
	logger  *observability.Logger
	metrics *observability.Metrics
}

// TelegramConfig holds Telegram notifier configuration
type TelegramConfig struct {
	Bot     MessageSender
	ChatID  int64
	Limiter *resilience.RateLimiter
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewTelegramBot connects to the Bot API with token
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// NewTelegramNotifier creates a Telegram notifier
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Bot == nil {
		return nil, fmt.Errorf("telegram bot is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = resilience.NewRateLimiter(resilience.NotificationRateLimits())
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	return &TelegramNotifier{
		bot:     cfg.Bot,
		chatID:  cfg.ChatID,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.Named("telegram"),
		metrics: cfg.Metrics,
	}, nil
}

// Notify formats event and sends it to the configured chat
func (t *TelegramNotifier) Notify(ctx context.Context, event TradeEvent) error {
	return t.SendHTML(ctx, FormatHTML(event))
}

// SendHTML sends a raw HTML message, used for startup and status reports
func (t *TelegramNotifier) SendHTML(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := resilience.WithRateLimit(ctx, t.limiter, func(context.Context) (tgbotapi.Message, error) {
		return t.bot.Send(msg)
	})

	t.metrics.RecordNotification(ctx, "telegram", err == nil)
	if err != nil {
		t.logger.LogWarn(ctx, "telegram send failed",
			slog.Int64("chat_id", t.chatID),
			slog.Any("error", err),
		)
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
