package genai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

// testLogger создаёт логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// expectKind проверяет, что err имеет тип *UpstreamError нужной категории.
func expectKind(t *testing.T, err error, kind Kind) *UpstreamError {
	t.Helper()
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("ожидалась *UpstreamError, получено %T: %v", err, err)
	}
	if upErr.Kind != kind {
		t.Fatalf("Kind = %q, ожидалось %q (%v)", upErr.Kind, kind, err)
	}
	return upErr
}

// TestGenerateContent_Success проверяет формат запроса и разбор ответа.
func TestGenerateContent_Success(t *testing.T) {
	var gotPath, gotKey, gotQuery string
	var gotBody Request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("ошибка декодирования запроса: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Привет!"}]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret-key", 5*time.Second, testLogger())
	temp := 0.8
	resp, err := c.GenerateContent(context.Background(), "gemini-2.0-flash", &Request{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		GenerationConfig: &GenerationConfig{Temperature: &temp, MaxOutputTokens: 8192},
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("путь запроса: %s", gotPath)
	}
	if gotKey != "secret-key" {
		t.Errorf("ключ должен передаваться заголовком, получено %q", gotKey)
	}
	if strings.Contains(gotQuery, "secret-key") {
		t.Error("ключ не должен попадать в URL")
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "hi" {
		t.Errorf("тело запроса: %+v", gotBody)
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.MaxOutputTokens != 8192 {
		t.Errorf("generationConfig: %+v", gotBody.GenerationConfig)
	}
	if resp.Text() != "Привет!" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

// TestGenerateContent_RemoteError проверяет error payload в ответе.
func TestGenerateContent_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bad", 5*time.Second, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	upErr := expectKind(t, err, KindRemote)
	if upErr.Message != "API key not valid" {
		t.Errorf("Message = %q", upErr.Message)
	}
	if upErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", upErr.StatusCode)
	}
}

// TestGenerateContent_ErrorPayloadWith200 проверяет error payload при статусе 200.
func TestGenerateContent_ErrorPayloadWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	upErr := expectKind(t, err, KindRemote)
	if upErr.Message != "quota exceeded" {
		t.Errorf("Message = %q", upErr.Message)
	}
}

// TestGenerateContent_NonJSONStatus проверяет не-2xx без JSON.
func TestGenerateContent_NonJSONStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	expectKind(t, err, KindRemote)
}

// TestGenerateContent_Malformed проверяет неразбираемое тело при статусе 200.
func TestGenerateContent_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	expectKind(t, err, KindMalformed)
}

// TestGenerateContent_Timeout проверяет ограничение времени ожидания.
func TestGenerateContent_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "k", 50*time.Millisecond, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	expectKind(t, err, KindTimeout)
}

// TestGenerateContent_Network проверяет недоступный сервер.
func TestGenerateContent_Network(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(addr, "k", 5*time.Second, testLogger())
	_, err := c.GenerateContent(context.Background(), "m", &Request{})

	expectKind(t, err, KindNetwork)
}

// TestResponse_EmptyCandidates проверяет пустой ответ модели.
func TestResponse_EmptyCandidates(t *testing.T) {
	var r Response
	if r.Parts() != nil || r.Text() != "" {
		t.Error("пустой ответ должен давать пустые части и текст")
	}
}
