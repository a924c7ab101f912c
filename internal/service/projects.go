// Пакет service: бизнес-логика projecthub.
// projects.go: жизненный цикл проектов: загрузка, скачивание, удаление, поиск.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/projecthub/internal/domain/model"
	"github.com/bigkaa/goartstore/projecthub/internal/events"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/catalog"
)

// Prometheus-метрики каталога.
var (
	projectsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ph_projects_total",
		Help: "Количество проектов в каталоге.",
	})
	storageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ph_storage_bytes",
		Help: "Суммарный размер файлов проектов в байтах.",
	})
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ph_operations_total",
		Help: "Количество операций с проектами по типу и результату.",
	}, []string{"operation", "status"})
)

// ProjectService: операции над проектами поверх каталога и blob-хранилища.
type ProjectService struct {
	catalog   *catalog.Store
	blobs     blob.Store
	cache     *SearchCache
	publisher events.Publisher
	logger    *slog.Logger
}

// NewProjectService создаёт сервис проектов. cache может быть nil.
func NewProjectService(
	cat *catalog.Store,
	blobs blob.Store,
	cache *SearchCache,
	publisher events.Publisher,
	logger *slog.Logger,
) *ProjectService {
	s := &ProjectService{
		catalog:   cat,
		blobs:     blobs,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "project_service")),
	}
	s.updateGauges()
	return s
}

// List возвращает все проекты, новые первые.
func (s *ProjectService) List() []*model.Project {
	return s.catalog.List()
}

// Get возвращает проект по id.
func (s *ProjectService) Get(id string) (*model.Project, error) {
	return s.catalog.Get(id)
}

// Search возвращает проекты по запросу и категории, новые первые.
// Результат может быть общим с кэшем и не должен изменяться.
func (s *ProjectService) Search(query, category string) []*model.Project {
	if cached, ok := s.cache.Get(query, category); ok {
		return cached
	}
	gen := s.cache.Generation()
	result := s.catalog.Search(query, category)
	s.cache.Set(query, category, result, gen)
	return result
}

// PutFile сохраняет поток файла в blob-хранилище до создания записи.
// Расширение берётся из originalName; сам originalName в ключ не попадает.
func (s *ProjectService) PutFile(ctx context.Context, r io.Reader, originalName string) (*catalog.BlobRef, error) {
	res, err := s.blobs.Put(ctx, r, filepath.Ext(originalName))
	if err != nil {
		return nil, fmt.Errorf("сохранение файла: %w", err)
	}
	return &catalog.BlobRef{
		Key:          res.Key,
		OriginalName: originalName,
		ContentType:  res.ContentType,
		Size:         res.Size,
	}, nil
}

// DiscardFile удаляет blob, для которого запись так и не была создана.
func (s *ProjectService) DiscardFile(ctx context.Context, ref *catalog.BlobRef) {
	if ref == nil {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), ref.Key); err != nil {
		s.logger.Warn("Не удалось удалить осиротевший файл",
			slog.String("key", ref.Key),
			slog.String("error", err.Error()),
		)
	}
}

// Create создаёт запись для сохранённого файла.
// ref == nil означает, что файл не был передан (ErrValidation).
// При любой ошибке blob удаляется.
func (s *ProjectService) Create(ctx context.Context, fields catalog.Fields, ref *catalog.BlobRef) (*model.Project, error) {
	if ref == nil {
		operationsTotal.WithLabelValues("upload", "invalid").Inc()
		return nil, fmt.Errorf("%w: файл не загружен", catalog.ErrValidation)
	}

	p, err := s.catalog.Create(fields, *ref)
	if err != nil {
		s.DiscardFile(ctx, ref)
		operationsTotal.WithLabelValues("upload", statusOf(err)).Inc()
		return nil, err
	}

	s.afterMutation()
	operationsTotal.WithLabelValues("upload", "ok").Inc()

	s.logger.Info("Проект загружен",
		slog.String("project_id", p.ID),
		slog.String("key", p.FileName),
		slog.Int64("size", p.FileSizeBytes),
	)
	s.publisher.Publish(ctx, events.Event{
		Type: events.TypeProjectCreated,
		Key:  p.ID,
		Data: map[string]any{
			"name":     p.Name,
			"category": p.Category,
			"size":     p.FileSizeBytes,
		},
	})

	return p, nil
}

// Open открывает файл проекта без изменения счётчика скачиваний.
// Вызывающий код обязан закрыть Object.
func (s *ProjectService) Open(ctx context.Context, id string) (*model.Project, *blob.Object, error) {
	p, err := s.catalog.Get(id)
	if err != nil {
		operationsTotal.WithLabelValues("download", statusOf(err)).Inc()
		return nil, nil, err
	}

	obj, err := s.blobs.Get(ctx, p.FileName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			err = catalog.ErrBlobMissing
		}
		operationsTotal.WithLabelValues("download", statusOf(err)).Inc()
		return nil, nil, err
	}
	return p, obj, nil
}

// RecordDownload засчитывает одно полное скачивание проекта.
// Частичные (Range) и условные (304) ответы не засчитываются:
// решение принимает вызывающий код.
func (s *ProjectService) RecordDownload(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.catalog.RecordDownload(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("download", statusOf(err)).Inc()
		return nil, err
	}
	s.cache.Purge()

	operationsTotal.WithLabelValues("download", "ok").Inc()
	s.publisher.Publish(ctx, events.Event{
		Type: events.TypeProjectDownloaded,
		Key:  p.ID,
		Data: map[string]any{"downloads": p.Downloads},
	})
	return p, nil
}

// Delete удаляет проект и его файл.
func (s *ProjectService) Delete(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.catalog.Delete(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("delete", statusOf(err)).Inc()
		return nil, err
	}

	s.afterMutation()
	operationsTotal.WithLabelValues("delete", "ok").Inc()

	s.logger.Info("Проект удалён",
		slog.String("project_id", p.ID),
		slog.String("key", p.FileName),
	)
	s.publisher.Publish(ctx, events.Event{
		Type: events.TypeProjectDeleted,
		Key:  p.ID,
		Data: map[string]any{"name": p.Name},
	})

	return p, nil
}

// afterMutation сбрасывает кэш поиска и обновляет метрики каталога.
func (s *ProjectService) afterMutation() {
	s.cache.Purge()
	s.updateGauges()
}

func (s *ProjectService) updateGauges() {
	projectsTotal.Set(float64(s.catalog.Count()))
	storageBytes.Set(float64(s.catalog.TotalBytes()))
}

// statusOf возвращает метку результата операции для метрик.
func statusOf(err error) string {
	switch {
	case errors.Is(err, catalog.ErrValidation):
		return "invalid"
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrBlobMissing):
		return "not_found"
	default:
		return "error"
	}
}
