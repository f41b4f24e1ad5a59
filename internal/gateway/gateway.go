package gateway

import (
	"context"
	"log/slog"
)

// Button is one inline keyboard button carrying a callback token.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard layout, row-major. A nil keyboard
// means the message is sent without one.
type Keyboard [][]Button

// Btn builds a button.
func Btn(text, data string) Button {
	return Button{Text: text, Data: data}
}

// Row builds one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// Gateway delivers outbound messages to the chat platform.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, kb Keyboard) error
	// AnswerCallback acknowledges a button press so the client stops
	// showing a loading state.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Announcer mirrors notable ticket activity into a shared group chat.
// A zero ChatID disables announcements; delivery failures are logged
// and never propagated.
type Announcer struct {
	GW     Gateway
	ChatID int64
	Logger *slog.Logger
}

// Announce posts text to the group chat, as a photo caption when a
// file reference is given.
func (a *Announcer) Announce(ctx context.Context, text, fileID string) {
	if a == nil || a.ChatID == 0 {
		return
	}
	var err error
	if fileID != "" {
		err = a.GW.SendPhoto(ctx, a.ChatID, fileID, text, nil)
	} else {
		err = a.GW.SendText(ctx, a.ChatID, text, nil)
	}
	if err != nil && a.Logger != nil {
		a.Logger.Warn("group announce failed", "error", err)
	}
}
