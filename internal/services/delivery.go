package services

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/channels"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/metrics"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/pubsub"
	"go.uber.org/zap"
)

const (
	previewMaxRunes = 100
	deliveryTimeout = 5 * time.Second
)

// EventSink receives every delivered message, e.g. a durable event stream
// for downstream consumers.
type EventSink interface {
	Emit(ctx context.Context, chat *models.Chat, msg models.Message) error
}

// DeliveryGateway fans a stored message out to the chat channel and to each
// participant's personal channel. Persistence is the source of truth;
// delivery only buys liveness, so its failures are logged and counted but
// never returned to the writer.
type DeliveryGateway struct {
	pub  pubsub.Publisher
	sink EventSink
	log  *zap.Logger
}

func NewDeliveryGateway(pub pubsub.Publisher, sink EventSink, log *zap.Logger) *DeliveryGateway {
	return &DeliveryGateway{pub: pub, sink: sink, log: log}
}

// PublishMessage broadcasts the full message on the chat channel.
func (g *DeliveryGateway) PublishMessage(ctx context.Context, chatID string, msg models.Message) error {
	env, err := pubsub.NewEnvelope(channels.Chat(chatID), channels.EventNewMessage, models.NewMessageEvent{
		Message: msg,
		ChatID:  chatID,
	})
	if err != nil {
		return err
	}
	return g.pub.Publish(ctx, env)
}

// NotifyParticipants publishes a short notification to every participant
// except excludeSenderID. All participants are attempted; the errors are
// joined.
func (g *DeliveryGateway) NotifyParticipants(ctx context.Context, chat *models.Chat, msg models.Message, excludeSenderID string) error {
	senderName := excludeSenderID
	if msg.Sender != nil {
		senderName = msg.Sender.DisplayName()
	}

	var errs []error
	for _, participant := range chat.Participants {
		if participant == excludeSenderID {
			continue
		}
		chatName := chat.Name
		if chat.Type == models.ChatTypePrivate {
			// Seen from the recipient, a private chat is named after the other side.
			chatName = senderName
		}
		env, err := pubsub.NewEnvelope(channels.User(participant), channels.EventNewMessage, models.MessageNotification{
			SenderName: senderName,
			ChatID:     chat.ID.Hex(),
			ChatName:   chatName,
			Message:    Preview(msg.Content),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.pub.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver runs the whole fan-out for a stored message. It detaches from the
// caller's cancellation so a client hanging up right after its send does not
// cut the broadcast short.
func (g *DeliveryGateway) Deliver(ctx context.Context, chat *models.Chat, msg models.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	chatID := chat.ID.Hex()
	log := g.log.With(zap.String("chat_id", chatID), zap.String("message_id", msg.ID.Hex()))

	if err := g.PublishMessage(ctx, chatID, msg); err != nil {
		metrics.PublishFailures.WithLabelValues("chat").Inc()
		log.Error("publish to chat channel failed", zap.Error(err))
	}
	if err := g.NotifyParticipants(ctx, chat, msg, msg.SenderID); err != nil {
		metrics.PublishFailures.WithLabelValues("user").Inc()
		log.Error("notify participants failed", zap.Error(err))
	}
	if g.sink != nil {
		if err := g.sink.Emit(ctx, chat, msg); err != nil {
			metrics.PublishFailures.WithLabelValues("stream").Inc()
			log.Error("emit to event stream failed", zap.Error(err))
		}
	}
}

// Preview shortens content for notifications.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "..."
}
