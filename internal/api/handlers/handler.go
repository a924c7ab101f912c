// Пакет handlers: HTTP-обработчики projecthub.
// handler.go: общие вспомогательные функции ответов.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// userMessage возвращает текст ошибки для клиента без префикса
// sentinel-ошибки и с заглавной буквы.
// "некорректные данные: название проекта обязательно" → "Название проекта обязательно".
func userMessage(err, sentinel error) string {
	msg := err.Error()
	if sentinel != nil && errors.Is(err, sentinel) {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// isTooLarge проверяет, что чтение тела прервано http.MaxBytesReader.
func isTooLarge(err error) bool {
	var mbErr *http.MaxBytesError
	return errors.As(err, &mbErr)
}
