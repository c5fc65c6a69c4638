package service

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram шлет одно сообщение в служебный чат на событие.
type Telegram struct {
	bot    sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(_ context.Context, e Event) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, format(e)))
	return err
}

func format(e Event) string {
	return fmt.Sprintf("%s #%d (user %d)\n%s", e.ItemType, e.ItemID, e.UserID, e.Message)
}
