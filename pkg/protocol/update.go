package protocol

// Update is one inbound webhook payload from the chat platform.
// Exactly one of Message or CallbackQuery is set.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is a direct message carrying text and/or a photo.
type Message struct {
	Chat  Chat        `json:"chat"`
	From  User        `json:"from"`
	Text  string      `json:"text,omitempty"`
	Photo []PhotoSize `json:"photo,omitempty"`
}

// LargestPhoto returns the file reference of the biggest photo variant.
// The platform sends size variants smallest-first.
func (m *Message) LargestPhoto() string {
	if len(m.Photo) == 0 {
		return ""
	}
	return m.Photo[len(m.Photo)-1].FileID
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// ChatID returns the chat the pressed keyboard lives in. Old presses
// may arrive without the originating message; replies then go to the
// user's private chat, whose id equals the user id.
func (c *CallbackQuery) ChatID() int64 {
	if c.Message != nil && c.Message.Chat.ID != 0 {
		return c.Message.Chat.ID
	}
	return c.From.ID
}

// Chat identifies the conversation an update arrived in.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User identifies the sender of an update.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// PhotoSize is one size variant of an uploaded photo.
type PhotoSize struct {
	FileID string `json:"file_id"`
}
