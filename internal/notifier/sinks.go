package notifier

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"crongen/internal/storage"
	logx "crongen/pkg/logx"
)

// LogSink writes every notification to the structured log.
type LogSink struct{ Log logx.Logger }

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, n Notification) error {
	s.Log.Info("notification",
		logx.String("kind", string(n.Kind)),
		logx.String("plugin", n.Plugin),
		logx.String("title", n.Title),
		logx.String("text", n.Text),
	)
	return nil
}

// StoreSink persists site messages so they survive restarts.
// Other kinds are accepted and ignored.
type StoreSink struct{ Store storage.Store }

func (StoreSink) Name() string { return "store" }

func (s StoreSink) Send(ctx context.Context, n Notification) error {
	if n.Kind != KindSiteMessage {
		return nil
	}
	if s.Store == nil {
		return storage.ErrDisabled
	}
	return s.Store.AppendMessage(ctx, storage.Message{
		At:     n.At,
		Kind:   string(n.Kind),
		Plugin: n.Plugin,
		Title:  n.Title,
		Text:   n.Text,
	})
}

// TelegramConfig configures the optional Telegram sink.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink forwards notifications to one Telegram chat.
type TelegramSink struct {
	bot      telegramSender
	chatID   int64
	threadID int
}

// NewTelegramSink builds an offline bot (no getMe / polling); it only sends.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (*TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, formatTelegram(n), &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              s.threadID,
	})
	return err
}

func formatTelegram(n Notification) string {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return n.Text
	}
	return title + "\n" + n.Text
}
