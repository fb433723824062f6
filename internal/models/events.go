package models

// NewMessageEvent is published on a chat channel after a message is stored.
type NewMessageEvent struct {
	Message Message `json:"message"`
	ChatID  string  `json:"chatId"`
}

// MessageNotification is published on a participant's personal channel.
type MessageNotification struct {
	SenderName string `json:"senderName"`
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName"`
	Message    string `json:"message"`
}

// TypingEvent is the payload of typing and stop-typing. It is relayed, never
// stored.
type TypingEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
