package gateway

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

// Poll long-polls Telegram for updates and hands each to handle, until
// ctx is done. Use it when no public webhook endpoint is available.
func (t *Telegram) Poll(ctx context.Context, handle func(context.Context, *protocol.Update)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			handle(ctx, convertUpdate(upd))
		}
	}
}

func convertUpdate(u tgbotapi.Update) *protocol.Update {
	out := &protocol.Update{UpdateID: int64(u.UpdateID)}
	if u.Message != nil {
		out.Message = convertMessage(u.Message)
	}
	if u.CallbackQuery != nil {
		cb := &protocol.CallbackQuery{
			ID:   u.CallbackQuery.ID,
			Data: u.CallbackQuery.Data,
		}
		if u.CallbackQuery.From != nil {
			cb.From = convertUser(u.CallbackQuery.From)
		}
		if u.CallbackQuery.Message != nil {
			cb.Message = convertMessage(u.CallbackQuery.Message)
		}
		out.CallbackQuery = cb
	}
	return out
}

func convertMessage(m *tgbotapi.Message) *protocol.Message {
	msg := &protocol.Message{Text: m.Text}
	if m.Chat != nil {
		msg.Chat = protocol.Chat{ID: m.Chat.ID, Type: m.Chat.Type}
	}
	if m.From != nil {
		msg.From = convertUser(m.From)
	}
	for _, p := range m.Photo {
		msg.Photo = append(msg.Photo, protocol.PhotoSize{FileID: p.FileID})
	}
	// Photo captions carry the text slot for mixed messages.
	if msg.Text == "" && m.Caption != "" {
		msg.Text = m.Caption
	}
	return msg
}

func convertUser(u *tgbotapi.User) protocol.User {
	return protocol.User{ID: u.ID, Username: u.UserName}
}
