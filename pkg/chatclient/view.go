package chatclient

import (
	"context"
	"time"
)

// Backend is the REST surface a ChatView needs.
type Backend interface {
	HistoryFetcher
	MessagePoster
}

type ViewConfig struct {
	ChatID     string
	Self       Profile
	PageSize   int
	Retention  int
	TypingIdle time.Duration
}

// ChatView is the client state of one open chat: the timeline and the
// protocols that feed it.
type ChatView struct {
	ChatID   string
	Timeline *Timeline
	Loader   *Loader
	Sender   *Sender
	Typing   *TypingSet
	Notifier *TypingNotifier
}

func NewChatView(api Backend, presence TypingPublisher, conf ViewConfig) *ChatView {
	tl := NewTimeline(conf.Retention)
	return &ChatView{
		ChatID:   conf.ChatID,
		Timeline: tl,
		Loader:   NewLoader(api, tl, conf.ChatID, conf.PageSize),
		Sender:   NewSender(api, tl, conf.ChatID, conf.Self),
		Typing:   NewTypingSet(conf.Self.ID),
		Notifier: NewTypingNotifier(presence, conf.ChatID, conf.TypingIdle),
	}
}

// Open loads the newest page.
func (v *ChatView) Open(ctx context.Context) error {
	return v.Loader.Init(ctx)
}

// Input records the compose buffer after a keystroke.
func (v *ChatView) Input(text string) {
	v.Sender.SetDraft(text)
	v.Notifier.Keystroke()
}

// Send ends the typing burst and submits text.
func (v *ChatView) Send(ctx context.Context, text string) (string, SendState, error) {
	v.Notifier.Stop()
	return v.Sender.Send(ctx, text)
}

// HandleEnvelope applies a gateway envelope addressed to this chat. It
// reports whether the envelope was consumed.
func (v *ChatView) HandleEnvelope(env Envelope) bool {
	if env.Channel != ChatChannel(v.ChatID) {
		return false
	}
	switch env.Event {
	case EventNewMessage:
		var ev NewMessageEvent
		if err := env.Decode(&ev); err != nil {
			return false
		}
		v.Sender.HandleMessage(ev.Message)
		return true
	case EventTyping, EventStopTyping:
		var ev TypingEvent
		if err := env.Decode(&ev); err != nil {
			return false
		}
		v.Typing.Apply(env.Event, ev)
		return true
	}
	return false
}

// Close ends any typing burst still running.
func (v *ChatView) Close() {
	v.Notifier.Stop()
}

// ChatChannel is the channel a chat's events are published on.
func ChatChannel(chatID string) string { return "chat-" + chatID }

// UserChannel is a user's personal notification channel.
func UserChannel(userID string) string { return "user-" + userID }
