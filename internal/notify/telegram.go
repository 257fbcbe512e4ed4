package notify

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI abstracts the Telegram bot methods used by the sink.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// LazyBot builds the Telegram client on first use. Building it calls getMe,
// so a failed build is retried on the next Send instead of at startup.
type LazyBot struct {
	token    string
	endpoint string
	client   tgbotapi.HTTPClient
	build    func(token, endpoint string, client tgbotapi.HTTPClient) (BotAPI, error)

	mu  sync.Mutex
	bot BotAPI
}

func NewLazyBot(token, endpoint string, client tgbotapi.HTTPClient) *LazyBot {
	return &LazyBot{
		token:    token,
		endpoint: endpoint,
		client:   client,
		build: func(token, endpoint string, client tgbotapi.HTTPClient) (BotAPI, error) {
			bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
			if err != nil {
				return nil, err
			}
			return bot, nil
		},
	}
}

func (l *LazyBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	l.mu.Lock()
	if l.bot == nil {
		bot, err := l.build(l.token, l.endpoint, l.client)
		if err != nil {
			l.mu.Unlock()
			return tgbotapi.Message{}, fmt.Errorf("telegram bot: %w", err)
		}
		l.bot = bot
	}
	bot := l.bot
	l.mu.Unlock()
	return bot.Send(c)
}

// TelegramSink posts the plain-text alert to one chat.
type TelegramSink struct {
	bot    BotAPI
	chatID int64
}

func NewTelegramSink(bot BotAPI, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	if s.bot == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, n.Text())
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
