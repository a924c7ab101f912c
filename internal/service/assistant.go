// assistant.go: прокси к генеративной модели: чат и генерация изображений.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/projecthub/internal/events"
	"github.com/bigkaa/goartstore/projecthub/internal/genai"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
)

// Ошибки AI-ассистента.
var (
	// ErrInvalidInput: пустое сообщение или промпт.
	ErrInvalidInput = errors.New("некорректный запрос")
	// ErrAINotConfigured: API-ключ не задан.
	ErrAINotConfigured = errors.New("AI не настроен: задайте PH_GEMINI_API_KEY")
)

// ChatFallbackReply: ответ, если модель не вернула текст.
const ChatFallbackReply = "Не удалось получить ответ"

// chatTemperature и chatMaxOutputTokens: параметры генерации чата.
const (
	chatTemperature     = 0.8
	chatMaxOutputTokens = 8192
)

// NoImageError: модель ответила, но без изображения.
type NoImageError struct {
	// Text: текст, который модель вернула вместо изображения
	Text string
}

func (e *NoImageError) Error() string {
	return "Не удалось сгенерировать изображение. Попробуй другой промпт."
}

// Generator: обращение к генеративной модели (genai.Client).
type Generator interface {
	GenerateContent(ctx context.Context, model string, req *genai.Request) (*genai.Response, error)
}

// ChatMessage: элемент истории чата от клиента.
type ChatMessage struct {
	// Role: "user" для сообщений пользователя, любое другое значение: ответ модели
	Role string `json:"role"`
	Text string `json:"text"`
}

// ImageResult: результат генерации изображения.
type ImageResult struct {
	// ImageURL: путь, по которому изображение раздаётся статически
	ImageURL string
	// Text: текстовые части ответа модели
	Text string
}

// AssistantConfig: параметры AssistantService.
type AssistantConfig struct {
	ChatModel  string
	ImageModel string
	// HistoryLimit: сколько последних сообщений истории пересылается модели
	HistoryLimit int
	// ImageURLPrefix: префикс URL сгенерированных изображений, например "/generated/"
	ImageURLPrefix string
}

// AssistantService: чат и генерация изображений.
type AssistantService struct {
	gen       Generator
	images    blob.Store
	cfg       AssistantConfig
	publisher events.Publisher
	logger    *slog.Logger
}

// NewAssistantService создаёт сервис. gen == nil: AI не настроен,
// все вызовы возвращают ErrAINotConfigured.
func NewAssistantService(
	gen Generator,
	images blob.Store,
	cfg AssistantConfig,
	publisher events.Publisher,
	logger *slog.Logger,
) *AssistantService {
	return &AssistantService{
		gen:       gen,
		images:    images,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "assistant")),
	}
}

// Chat отправляет сообщение с историей и возвращает ответ модели.
func (s *AssistantService) Chat(ctx context.Context, message string, history []ChatMessage) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: Сообщение не может быть пустым", ErrInvalidInput)
	}
	if s.gen == nil {
		return "", ErrAINotConfigured
	}

	history = lastN(history, s.cfg.HistoryLimit)

	contents := make([]genai.Content, 0, len(history)+1)
	for _, msg := range history {
		role := "model"
		if msg.Role == "user" {
			role = "user"
		}
		contents = append(contents, genai.Content{
			Role:  role,
			Parts: []genai.Part{{Text: msg.Text}},
		})
	}
	contents = append(contents, genai.Content{
		Role:  "user",
		Parts: []genai.Part{{Text: message}},
	})

	temp := chatTemperature
	resp, err := s.gen.GenerateContent(ctx, s.cfg.ChatModel, &genai.Request{
		Contents: contents,
		GenerationConfig: &genai.GenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: chatMaxOutputTokens,
		},
	})
	if err != nil {
		return "", err
	}

	reply := resp.Text()
	if reply == "" {
		reply = ChatFallbackReply
	}
	return reply, nil
}

// GenerateImage генерирует изображение по промпту и сохраняет его
// в хранилище сгенерированных изображений. Сохраняется первое
// изображение ответа, текстовые части склеиваются.
func (s *AssistantService) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: Промпт не может быть пустым", ErrInvalidInput)
	}
	if s.gen == nil {
		return nil, ErrAINotConfigured
	}

	resp, err := s.gen.GenerateContent(ctx, s.cfg.ImageModel, &genai.Request{
		Contents: []genai.Content{{Parts: []genai.Part{{Text: prompt}}}},
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	})
	if err != nil {
		return nil, err
	}

	var (
		text  strings.Builder
		image *genai.InlineData
	)
	for _, part := range resp.Parts() {
		if part.InlineData != nil && image == nil {
			image = part.InlineData
		}
		text.WriteString(part.Text)
	}

	if image == nil {
		return nil, &NoImageError{Text: text.String()}
	}

	data, err := base64.StdEncoding.DecodeString(image.Data)
	if err != nil {
		return nil, &genai.UpstreamError{
			Kind:    genai.KindMalformed,
			Message: "изображение в ответе AI повреждено",
			Err:     err,
		}
	}

	res, err := s.images.Put(ctx, bytes.NewReader(data), imageExt(image.MimeType))
	if err != nil {
		return nil, fmt.Errorf("сохранение изображения: %w", err)
	}

	s.logger.Info("Изображение сгенерировано",
		slog.String("key", res.Key),
		slog.Int64("size", res.Size),
	)
	s.publisher.Publish(ctx, events.Event{
		Type: events.TypeImageGenerated,
		Key:  res.Key,
		Data: map[string]any{"contentType": res.ContentType, "size": res.Size},
	})

	return &ImageResult{
		ImageURL: s.cfg.ImageURLPrefix + res.Key,
		Text:     text.String(),
	}, nil
}

// imageExt подбирает расширение файла по MIME-типу изображения.
func imageExt(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".jpg"
}

// lastN возвращает последние n элементов.
func lastN(history []ChatMessage, n int) []ChatMessage {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
