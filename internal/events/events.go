// Пакет events: публикация доменных событий каталога в Kafka.
// Публикация best effort: ошибки логируются и никогда не прерывают
// обработку запроса.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Типы событий.
const (
	TypeProjectCreated    = "project.created"
	TypeProjectDeleted    = "project.deleted"
	TypeProjectDownloaded = "project.downloaded"
	TypeImageGenerated    = "image.generated"
)

// Event: доменное событие.
type Event struct {
	Type string `json:"type"`
	// Key: ключ партиционирования (id проекта или ключ изображения)
	Key       string         `json:"key"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher публикует события.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// NopPublisher отбрасывает события. Используется, если Kafka не настроена.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, Event) {}

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }

// messageWriter: подмножество *kafka.Writer, используемое публикатором.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka в формате JSON.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher создаёт публикатор. Запись асинхронная: Publish не ждёт
// подтверждения брокера, ошибки доставки логируются из Completion.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	log := logger.With(slog.String("component", "events"))

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("Ошибка доставки событий в Kafka",
					slog.Int("messages", len(msgs)),
					slog.String("error", err.Error()),
				)
			}
		},
	}

	log.Info("Публикация событий в Kafka включена",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
	)

	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish сериализует событие и передаёт его writer.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("Ошибка сериализации события",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}

	// Контекст запроса может быть отменён сразу после ответа клиенту
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.Warn("Ошибка публикации события",
			slog.String("type", ev.Type),
			slog.String("key", ev.Key),
			slog.String("error", err.Error()),
		)
	}
}

// Close дожидается отправки буфера и закрывает соединения.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*KafkaPublisher)(nil)
)
