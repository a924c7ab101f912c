// ai.go: HTTP handlers AI-ассистента: чат и генерация изображений.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/projecthub/internal/api/errors"
	"github.com/bigkaa/goartstore/projecthub/internal/genai"
	"github.com/bigkaa/goartstore/projecthub/internal/service"
)

// maxJSONBody: предельный размер JSON-тела запросов к AI.
const maxJSONBody = 50 << 20

// AIHandler: обработчик endpoints AI-ассистента.
type AIHandler struct {
	assistant *service.AssistantService
	logger    *slog.Logger
}

// NewAIHandler создаёт обработчик AI endpoints.
func NewAIHandler(assistant *service.AssistantService, logger *slog.Logger) *AIHandler {
	return &AIHandler{
		assistant: assistant,
		logger:    logger.With(slog.String("component", "ai_handler")),
	}
}

type chatRequest struct {
	Message string                `json:"message"`
	History []service.ChatMessage `json:"history"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	ImageURL string `json:"imageUrl"`
	Text     string `json:"text"`
}

// Chat обрабатывает POST /api/chat.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	reply, err := h.assistant.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		h.writeAIError(w, err, "Ошибка AI")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// GenerateImage обрабатывает POST /api/generate-image.
func (h *AIHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.assistant.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		h.writeAIError(w, err, "Ошибка генерации")
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{ImageURL: res.ImageURL, Text: res.Text})
}

// decode читает JSON-тело, ограниченное maxJSONBody.
// При ошибке пишет ответ и возвращает false.
func (h *AIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if isTooLarge(err) {
			apierrors.FileTooLarge(w, "Слишком большой запрос")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	return true
}

// writeAIError транслирует ошибки ассистента в HTTP-ответы.
// fallback: сообщение для неклассифицированных ошибок.
func (h *AIHandler) writeAIError(w http.ResponseWriter, err error, fallback string) {
	var (
		noImage *service.NoImageError
		upErr   *genai.UpstreamError
	)

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		apierrors.ValidationError(w, userMessage(err, service.ErrInvalidInput))
	case errors.Is(err, service.ErrAINotConfigured):
		apierrors.AINotConfigured(w, err.Error())
	case errors.As(err, &noImage):
		apierrors.NoImage(w, noImage.Error(), noImage.Text)
	case errors.As(err, &upErr):
		msg := upErr.Message
		if msg == "" {
			msg = fallback
		}
		if upErr.Kind == genai.KindTimeout {
			apierrors.UpstreamTimeout(w, msg)
			return
		}
		apierrors.UpstreamError(w, msg)
	default:
		h.logger.Error("Ошибка AI-ассистента", slog.String("error", err.Error()))
		apierrors.InternalError(w, fallback)
	}
}
