// Пакет model: доменные модели каталога проектов.
// Project: единая структура записи каталога, используется
// как in-memory представление и как формат элемента projects.json на диске.
package model

import (
	"strconv"
	"strings"
	"time"
)

// DefaultCategory: категория по умолчанию, если клиент её не указал.
const DefaultCategory = "Other"

// CategoryAll: служебное значение фильтра категории «без фильтра».
const CategoryAll = "all"

// Project: запись каталога. JSON-имена полей зафиксированы контрактом API.
type Project struct {
	// ID: уникальный идентификатор записи, не переиспользуется
	ID string `json:"id"`

	// Name: название проекта (обязательное, без пробелов по краям)
	Name string `json:"name"`

	// Description: описание (опционально)
	Description string `json:"description"`

	// Category: категория, по умолчанию DefaultCategory
	Category string `json:"category"`

	// Tags: теги в порядке ввода
	Tags []string `json:"tags"`

	// FileName: ключ blob в хранилище, сгенерирован сервером.
	// Не зависит от имени файла пользователя.
	FileName string `json:"fileName"`

	// OriginalName: имя файла пользователя, только для Content-Disposition
	OriginalName string `json:"originalName"`

	// ContentType: MIME-тип содержимого, определённый при загрузке
	ContentType string `json:"contentType,omitempty"`

	// FileSize: человекочитаемый размер (производное от FileSizeBytes)
	FileSize string `json:"fileSize"`

	// FileSizeBytes: точный размер в байтах
	FileSizeBytes int64 `json:"fileSizeBytes"`

	// Downloads: счётчик скачиваний, только растёт
	Downloads int `json:"downloads"`

	// UploadedAt: время создания записи (UTC), не меняется.
	// Единственный ключ сортировки (новые первые).
	UploadedAt time.Time `json:"uploadedAt"`
}

// Clone возвращает глубокую копию записи.
func (p *Project) Clone() *Project {
	copied := *p
	copied.Tags = make([]string, len(p.Tags))
	copy(copied.Tags, p.Tags)
	return &copied
}

// Matches проверяет запись на соответствие поисковому запросу и категории.
// query сравнивается без учёта регистра как подстрока name, description
// или любого тега; пустой query подходит всем. category сравнивается
// точно, пустая строка и CategoryAll означают «без фильтра».
func (p *Project) Matches(query, category string) bool {
	if category != "" && category != CategoryAll && p.Category != category {
		return false
	}

	q := strings.ToLower(query)
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// ParseTags разбирает строку тегов через запятую.
// Каждый тег обрезается по краям, пустые отбрасываются.
// Всегда возвращает не-nil срез.
func ParseTags(raw string) []string {
	tags := make([]string, 0)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// FormatSize форматирует размер в байтах: B, KB и MB с одним знаком
// после запятой, GB с двумя. Основание 1024.
func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes < kb:
		return strconv.FormatInt(bytes, 10) + " B"
	case bytes < mb:
		return strconv.FormatFloat(float64(bytes)/kb, 'f', 1, 64) + " KB"
	case bytes < gb:
		return strconv.FormatFloat(float64(bytes)/mb, 'f', 1, 64) + " MB"
	default:
		return strconv.FormatFloat(float64(bytes)/gb, 'f', 2, 64) + " GB"
	}
}
