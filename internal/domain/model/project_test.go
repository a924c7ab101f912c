package model

import (
	"reflect"
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.50 GB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, ожидалось %q", tt.bytes, got, tt.want)
		}
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{}},
		{"web", []string{"web"}},
		{" web , go ,, ,api ", []string{"web", "go", "api"}},
		{",,,", []string{}},
	}

	for _, tt := range tests {
		got := ParseTags(tt.raw)
		if got == nil {
			t.Fatalf("ParseTags(%q) вернул nil", tt.raw)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTags(%q) = %v, ожидалось %v", tt.raw, got, tt.want)
		}
	}
}

// TestMatches проверяет поиск по подстроке и фильтр категории.
func TestMatches(t *testing.T) {
	p := &Project{
		Name:        "Landing Page",
		Description: "Адаптивная вёрстка",
		Category:    "Design",
		Tags:        []string{"Web", "HTML"},
	}

	tests := []struct {
		name     string
		query    string
		category string
		want     bool
	}{
		{"пустой запрос", "", "", true},
		{"категория all", "", CategoryAll, true},
		{"тег без учёта регистра", "web", CategoryAll, true},
		{"имя", "landing", "", true},
		{"описание кириллица", "вёрстка", "", true},
		{"нет совпадения", "backend", CategoryAll, false},
		{"другая категория", "web", "Code", false},
		{"совпадение и категория", "html", "Design", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Matches(tt.query, tt.category); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, ожидалось %v", tt.query, tt.category, got, tt.want)
			}
		})
	}
}

// TestClone проверяет, что копия не разделяет срез тегов с оригиналом.
func TestClone(t *testing.T) {
	p := &Project{ID: "p1", Tags: []string{"a", "b"}, UploadedAt: time.Now()}

	c := p.Clone()
	c.Tags[0] = "changed"

	if p.Tags[0] != "a" {
		t.Errorf("изменение копии затронуло оригинал: %v", p.Tags)
	}
	if c.ID != p.ID || !c.UploadedAt.Equal(p.UploadedAt) {
		t.Error("поля копии не совпадают с оригиналом")
	}
}
