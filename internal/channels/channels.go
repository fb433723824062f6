// Package channels maps chats and users to pub/sub channel names. Publishers
// and subscribers both go through here so they always agree.
package channels

import "strings"

const (
	chatPrefix = "chat-"
	userPrefix = "user-"
)

// Event names carried on the channels.
const (
	EventNewMessage = "new-message"
	EventTyping     = "typing"
	EventStopTyping = "stop-typing"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindChat
	KindUser
)

// Chat is the channel every viewer of a chat listens on.
func Chat(chatID string) string { return chatPrefix + chatID }

// User is a user's personal notification channel.
func User(userID string) string { return userPrefix + userID }

// Parse splits a channel name into its kind and id.
func Parse(name string) (Kind, string, bool) {
	switch {
	case strings.HasPrefix(name, chatPrefix) && len(name) > len(chatPrefix):
		return KindChat, strings.TrimPrefix(name, chatPrefix), true
	case strings.HasPrefix(name, userPrefix) && len(name) > len(userPrefix):
		return KindUser, strings.TrimPrefix(name, userPrefix), true
	}
	return KindUnknown, "", false
}
