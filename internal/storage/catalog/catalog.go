// Пакет catalog: хранилище записей каталога проектов.
//
// Каталог целиком хранится в одном JSON-файле (массив записей) и
// зеркалируется в памяти. Каждая мутация выполняется под эксклюзивной
// блокировкой: изменение применяется к копии зеркала, файл полностью
// перезаписывается (temp → fsync → atomic rename), и только после
// успешной записи копия становится текущим состоянием. Параллельные
// мутации сериализуются, потерянных обновлений нет.
//
// Чтение обслуживается из зеркала под разделяемой блокировкой и
// возвращает глубокие копии записей.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/projecthub/internal/domain/model"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
)

// Ошибки каталога.
var (
	// ErrNotFound: запись с указанным id отсутствует.
	ErrNotFound = errors.New("проект не найден")
	// ErrValidation: некорректные входные данные.
	ErrValidation = errors.New("некорректные данные")
	// ErrBlobMissing: запись есть, но её blob отсутствует в хранилище.
	ErrBlobMissing = errors.New("файл не найден")
)

// maxIDAttempts: сколько раз генератор может вернуть занятый id подряд.
const maxIDAttempts = 3

// Fields: пользовательские поля новой записи до нормализации.
type Fields struct {
	Name        string
	Description string
	Category    string
	// Tags: теги через запятую, как они пришли от клиента
	Tags string
}

// BlobRef: ссылка на уже записанный blob новой записи.
type BlobRef struct {
	// Key: ключ blob в хранилище
	Key string
	// OriginalName: имя файла пользователя
	OriginalName string
	// ContentType: MIME-тип содержимого
	ContentType string
	// Size: размер в байтах
	Size int64
}

// Option: опция конструктора Store.
type Option func(*Store)

// WithIDGenerator задаёт генератор идентификаторов записей.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store: каталог проектов.
type Store struct {
	mu       sync.RWMutex
	path     string
	projects []*model.Project // порядок добавления
	ready    bool

	blobs  blob.Store
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// Open загружает каталог из файла path. Отсутствующий файл создаётся
// с пустым массивом. Повреждённый файл возвращает ошибку, иначе пустой
// каталог при следующей записи затёр бы все данные.
func Open(path string, blobs blob.Store, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		blobs:  blobs,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "catalog")),
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persist([]*model.Project{}); err != nil {
			return nil, err
		}
		data = []byte("[]")
	case err != nil:
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", path, err)
	}

	var projects []*model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("ошибка десериализации каталога %s: %w", path, err)
	}

	seen := make(map[string]bool, len(projects))
	s.projects = make([]*model.Project, 0, len(projects))
	for _, p := range projects {
		if p == nil || p.ID == "" || seen[p.ID] {
			s.logger.Warn("Пропущена некорректная или повторяющаяся запись каталога")
			continue
		}
		seen[p.ID] = true
		if p.Tags == nil {
			p.Tags = []string{}
		}
		s.projects = append(s.projects, p)
	}
	s.ready = true

	s.logger.Info("Каталог загружен",
		slog.Int("projects", len(s.projects)),
		slog.String("path", path),
	)

	return s, nil
}

// IsReady возвращает true, если каталог загружен.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// List возвращает все записи, новые первые.
func (s *Store) List() []*model.Project {
	return s.Search("", "")
}

// Get возвращает запись по id или ErrNotFound.
func (s *Store) Get(id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return s.projects[i].Clone(), nil
}

// Search возвращает записи, подходящие под запрос и категорию
// (см. model.Project.Matches), новые первые.
func (s *Store) Search(query, category string) []*model.Project {
	s.mu.RLock()
	result := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.Matches(query, category) {
			result = append(result, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	return result
}

// Create создаёт запись для уже записанного blob.
// При ErrValidation blob остаётся в хранилище: удалить его обязан
// вызывающий код.
func (s *Store) Create(f Fields, ref BlobRef) (*model.Project, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: название проекта обязательно", ErrValidation)
	}
	if ref.Key == "" {
		return nil, fmt.Errorf("%w: файл не загружен", ErrValidation)
	}
	if ref.Size < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер файла", ErrValidation)
	}

	category := strings.TrimSpace(f.Category)
	if category == "" {
		category = model.DefaultCategory
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.freshID()
	if err != nil {
		return nil, err
	}

	p := &model.Project{
		ID:            id,
		Name:          name,
		Description:   strings.TrimSpace(f.Description),
		Category:      category,
		Tags:          model.ParseTags(f.Tags),
		FileName:      ref.Key,
		OriginalName:  ref.OriginalName,
		ContentType:   ref.ContentType,
		FileSize:      model.FormatSize(ref.Size),
		FileSizeBytes: ref.Size,
		Downloads:     0,
		UploadedAt:    s.now(),
	}

	next := make([]*model.Project, len(s.projects), len(s.projects)+1)
	copy(next, s.projects)
	next = append(next, p)

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.projects = next

	return p.Clone(), nil
}

// Delete удаляет blob записи (отсутствие blob допустимо) и саму запись.
// Возвращает удалённую запись или ErrNotFound.
//
// Удаление blob и записи не атомарно: если запись файла каталога
// не удалась после удаления blob, запись останется и при скачивании
// будет возвращена ErrBlobMissing.
func (s *Store) Delete(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	p := s.projects[i]

	if err := s.blobs.Delete(ctx, p.FileName); err != nil {
		return nil, fmt.Errorf("удаление blob %s: %w", p.FileName, err)
	}

	next := make([]*model.Project, 0, len(s.projects)-1)
	next = append(next, s.projects[:i]...)
	next = append(next, s.projects[i+1:]...)

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.projects = next

	return p.Clone(), nil
}

// RecordDownload увеличивает счётчик скачиваний записи на 1 и возвращает
// обновлённую запись (FileName: ключ blob для отдачи).
// ErrNotFound: записи нет; ErrBlobMissing: blob отсутствует, счётчик
// при этом не меняется.
func (s *Store) RecordDownload(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}

	if !s.blobs.Exists(ctx, s.projects[i].FileName) {
		return nil, ErrBlobMissing
	}

	updated := s.projects[i].Clone()
	updated.Downloads++

	next := make([]*model.Project, len(s.projects))
	copy(next, s.projects)
	next[i] = updated

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.projects = next

	return updated.Clone(), nil
}

// Count возвращает количество записей.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

// TotalBytes возвращает суммарный размер файлов всех записей.
func (s *Store) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.projects {
		total += p.FileSizeBytes
	}
	return total
}

// Keys возвращает ключи blob всех записей с их id.
func (s *Store) Keys() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[string]string, len(s.projects))
	for _, p := range s.projects {
		keys[p.FileName] = p.ID
	}
	return keys
}

// indexOf возвращает позицию записи в зеркале или -1. Вызывать под блокировкой.
func (s *Store) indexOf(id string) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// freshID генерирует id, не занятый в каталоге. Вызывать под блокировкой.
func (s *Store) freshID() (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id != "" && s.indexOf(id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("не удалось сгенерировать уникальный id за %d попыток", maxIDAttempts)
}

// persist атомарно перезаписывает файл каталога.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func (s *Store) persist(projects []*model.Project) error {
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации каталога: %w", err)
	}

	tmpPath := s.path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}
