package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notification 封装告警上下文。
type Notification struct {
	SubjectID string
	Title     string
	Message   string
	At        time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器, 构造时会调用 getMe 校验 token。
func NewTelegramNotifier(botToken string, chatID int64, apiBase string, logger zerolog.Logger) (*TelegramNotifier, error) {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	endpoint := strings.TrimRight(apiBase, "/") + "/bot%s/%s"

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, renderMessage(note))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().Str("subject", note.SubjectID).Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info().
		Str("subject", note.SubjectID).
		Str("title", note.Title).
		Str("message", note.Message).
		Time("at", note.At).
		Msg("product alert")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[shopwatch] ")
	b.WriteString(note.Title)
	b.WriteString("\n")
	b.WriteString(note.Message)
	if !note.At.IsZero() {
		fmt.Fprintf(&b, "\n%s UTC", note.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
