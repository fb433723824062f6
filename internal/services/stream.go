package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/segmentio/kafka-go"
)

// MessageRecord is the value written to the message stream.
type MessageRecord struct {
	Type         string          `json:"type"`
	ChatID       string          `json:"chatId"`
	ChatType     models.ChatType `json:"chatType"`
	Participants []string        `json:"participants"`
	SenderID     string          `json:"senderId"`
	Message      models.Message  `json:"message"`
}

// KafkaSink appends every delivered message to a Kafka topic, keyed by chat
// id so each chat's messages stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (k *KafkaSink) Emit(ctx context.Context, chat *models.Chat, msg models.Message) error {
	value, err := json.Marshal(MessageRecord{
		Type:         "message.created",
		ChatID:       chat.ID.Hex(),
		ChatType:     chat.Type,
		Participants: chat.Participants,
		SenderID:     msg.SenderID,
		Message:      msg,
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(chat.ID.Hex()),
		Value: value,
		Time:  msg.Timestamp,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
