// Пакет genai: HTTP-клиент Generative Language API (Gemini).
// Один запрос generateContent на вызов, без повторов и потоковой выдачи.
// Ключ передаётся заголовком x-goog-api-key и не попадает в URL и логи.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxResponseSize: предел тела ответа (изображения приходят в base64).
const maxResponseSize = 64 << 20

// Prometheus-метрики клиента.
var aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ph_ai_requests_total",
	Help: "Количество запросов к Generative Language API по модели и результату.",
}, []string{"model", "outcome"})

// Kind: категория ошибки обращения к AI.
type Kind string

// Категории ошибок. Различаются вызывающим кодом и в метриках.
const (
	// KindTimeout: ответ не получен за отведённое время
	KindTimeout Kind = "timeout"
	// KindNetwork: ошибка соединения
	KindNetwork Kind = "network"
	// KindRemote: API вернул ошибку (error payload или не-2xx статус)
	KindRemote Kind = "remote"
	// KindMalformed: тело ответа не удалось разобрать
	KindMalformed Kind = "malformed"
)

// UpstreamError: ошибка обращения к AI.
type UpstreamError struct {
	Kind Kind
	// Message: текст для пользователя
	Message string
	// StatusCode: HTTP-статус ответа (0, если ответа не было)
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// --- Формат запроса и ответа generateContent ---

// Content: сообщение диалога.
type Content struct {
	// Role: user или model; пустая для одиночного запроса
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part: часть сообщения: текст или встроенные бинарные данные.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData: бинарные данные в base64.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig: параметры генерации.
type GenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// Request: тело запроса generateContent.
type Request struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate: вариант ответа модели.
type Candidate struct {
	Content Content `json:"content"`
}

// Response: тело ответа generateContent.
type Response struct {
	Candidates []Candidate `json:"candidates"`
	Error      *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Parts возвращает части первого кандидата или nil.
func (r *Response) Parts() []Part {
	if len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

// Text возвращает текст первой части первого кандидата.
func (r *Response) Text() string {
	parts := r.Parts()
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

// Client: клиент Generative Language API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	logger     *slog.Logger
}

// New создаёт клиент.
// baseURL: например https://generativelanguage.googleapis.com.
// timeout ограничивает весь цикл запрос/ответ, включая чтение тела.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "genai")),
	}
}

// BaseURL возвращает базовый URL API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GenerateContent выполняет POST {base}/v1beta/models/{model}:generateContent.
// Все ошибки, кроме ошибки сериализации запроса, имеют тип *UpstreamError.
func (c *Client) GenerateContent(ctx context.Context, model string, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса generateContent: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.doRequest(httpReq)
	if err != nil {
		c.observe(model, err, start)
		return nil, err
	}

	c.observe(model, nil, start)
	return resp, nil
}

// doRequest отправляет запрос и классифицирует результат.
func (c *Client) doRequest(req *http.Request) (*Response, error) {
	httpResp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return nil, classifyTransportError(req.Context(), err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(req.Context(), err)
	}

	var parsed Response
	decodeErr := json.Unmarshal(data, &parsed)

	// Ошибка API: error payload приоритетнее статуса
	if decodeErr == nil && parsed.Error != nil {
		msg := parsed.Error.Message
		if msg == "" {
			msg = "ошибка Gemini API"
		}
		return nil, &UpstreamError{Kind: KindRemote, Message: msg, StatusCode: httpResp.StatusCode}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Kind:       KindRemote,
			Message:    fmt.Sprintf("Gemini API вернул статус %d", httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
		}
	}

	if decodeErr != nil {
		return nil, &UpstreamError{
			Kind:       KindMalformed,
			Message:    "не удалось разобрать ответ Gemini",
			StatusCode: httpResp.StatusCode,
			Err:        decodeErr,
		}
	}

	return &parsed, nil
}

// classifyTransportError различает таймаут и прочие сетевые ошибки.
func classifyTransportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &UpstreamError{Kind: KindTimeout, Message: "превышено время ожидания ответа AI", Err: err}
	}
	return &UpstreamError{Kind: KindNetwork, Message: "не удалось связаться с AI", Err: err}
}

// observe пишет метрику и лог результата запроса.
func (c *Client) observe(model string, err error, start time.Time) {
	outcome := "ok"
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		outcome = string(upErr.Kind)
	}
	aiRequestsTotal.WithLabelValues(model, outcome).Inc()

	attrs := []any{
		slog.String("model", model),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		c.logger.Warn("Запрос к AI завершился ошибкой", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	c.logger.Debug("Запрос к AI выполнен", attrs...)
}
