package telegram

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender sends an HTML message to a chat. chatID is either a numeric id or a
// public channel username such as "@bantah".
type Sender interface {
	SendHTML(ctx context.Context, chatID string, htmlText string) (int, error)
}

// BotSender implements Sender using tgbotapi.
type BotSender struct {
	api *tgbotapi.BotAPI
}

// NewBotSender connects to the Bot API with token.
func NewBotSender(token string) (*BotSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &BotSender{api: api}, nil
}

func (s *BotSender) SendHTML(ctx context.Context, chatID string, htmlText string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, htmlText)
	} else {
		msg = tgbotapi.NewMessageToChannel(chatID, htmlText)
	}
	msg.ParseMode = tgbotapi.ModeHTML

	resp, err := s.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}
