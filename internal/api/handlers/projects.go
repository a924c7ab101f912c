// projects.go: HTTP handlers каталога проектов.
// List, Get, Upload, Download, Delete, Search.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/projecthub/internal/api/errors"
	"github.com/bigkaa/goartstore/projecthub/internal/domain/model"
	"github.com/bigkaa/goartstore/projecthub/internal/service"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/catalog"
)

// maxFieldSize: предельный размер текстового поля multipart-формы.
const maxFieldSize = 1 << 20

// minDownloadRate: скорость отдачи файла (байт/с), под которую
// рассчитывается write deadline скачивания.
const minDownloadRate = 64 << 10

var (
	errFieldTooLarge = errors.New("поле формы превышает лимит")
	errBlobWrite     = errors.New("ошибка записи файла в хранилище")
)

// ProjectsHandler: обработчик endpoints каталога.
type ProjectsHandler struct {
	projects      *service.ProjectService
	maxUploadSize int64
	// writeTimeout: время на запись ответа, отсчитываемое от конца
	// чтения тела загрузки (0: deadline сервера не меняется)
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewProjectsHandler создаёт обработчик каталога.
// maxUploadSize: предельный размер тела POST /api/projects.
// writeTimeout: PH_HTTP_WRITE_TIMEOUT; загрузка и скачивание продлевают
// write deadline соединения, чтобы длинная передача не обрывала ответ.
func NewProjectsHandler(
	projects *service.ProjectService,
	maxUploadSize int64,
	writeTimeout time.Duration,
	logger *slog.Logger,
) *ProjectsHandler {
	return &ProjectsHandler{
		projects:      projects,
		maxUploadSize: maxUploadSize,
		writeTimeout:  writeTimeout,
		logger:        logger.With(slog.String("component", "projects_handler")),
	}
}

// List обрабатывает GET /api/projects.
func (h *ProjectsHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.projects.List()))
}

// Get обрабатывает GET /api/projects/{id}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Search обрабатывает GET /api/search?q=&category=.
func (h *ProjectsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, nonNil(h.projects.Search(q.Get("q"), q.Get("category"))))
}

// Upload обрабатывает POST /api/projects.
// Multipart form: file (обязательно), name (обязательно), description,
// category, tags (через запятую). Файл пишется в хранилище потоком,
// тело запроса ограничено maxUploadSize.
func (h *ProjectsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}

	fields, ref, err := h.readUploadForm(ctx, mr)

	// Write deadline сервера отсчитывается от чтения заголовков запроса:
	// после долгой передачи тела на ответ его бы не осталось
	h.setWriteDeadline(w, time.Now().Add(h.writeTimeout))

	if err != nil {
		h.projects.DiscardFile(ctx, ref)
		h.writeUploadError(w, err)
		return
	}

	p, err := h.projects.Create(ctx, fields, ref)
	if err != nil {
		h.writeCatalogError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// readUploadForm читает multipart-форму. Файл сохраняется в хранилище
// потоком; при ошибке возвращается уже сохранённый ref для удаления.
// Ошибки хранилища обёрнуты в errBlobWrite.
func (h *ProjectsHandler) readUploadForm(ctx context.Context, mr *multipart.Reader) (catalog.Fields, *catalog.BlobRef, error) {
	var (
		fields catalog.Fields
		ref    *catalog.BlobRef
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return fields, ref, nil
		}
		if err != nil {
			return fields, ref, err
		}

		switch part.FormName() {
		case "file":
			// Учитывается только первый файл
			if ref != nil || part.FileName() == "" {
				break
			}
			ref, err = h.projects.PutFile(ctx, part, part.FileName())
			if err != nil && !isTooLarge(err) {
				err = fmt.Errorf("%w: %w", errBlobWrite, err)
			}
		case "name":
			fields.Name, err = readField(part)
		case "description":
			fields.Description, err = readField(part)
		case "category":
			fields.Category, err = readField(part)
		case "tags":
			fields.Tags, err = readField(part)
		}
		if err == nil {
			// Дочитываем неиспользованные части, чтобы лимит тела
			// срабатывал одинаково для любых полей
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()

		if err != nil {
			return fields, ref, err
		}
	}
}

// Download обрабатывает GET /api/projects/{id}/download.
// Отдаёт файл как вложение с оригинальным именем; поддерживает Range.
// Счётчик скачиваний растёт только при полном ответе 200:
// ответы 206 и 304 не засчитываются.
func (h *ProjectsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, obj, err := h.projects.Open(r.Context(), id)
	if err != nil {
		h.writeCatalogError(w, err)
		return
	}
	defer obj.Close()

	h.setWriteDeadline(w, downloadWriteDeadline(time.Now(), h.writeTimeout, obj.Size))

	if p.ContentType != "" {
		w.Header().Set("Content-Type", p.ContentType)
	}
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": p.OriginalName}))

	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
	http.ServeContent(sw, r, p.OriginalName, obj.ModTime, obj)

	if sw.statusCode != http.StatusOK {
		return
	}
	if _, err := h.projects.RecordDownload(r.Context(), id); err != nil {
		// Файл уже отдан; проект мог быть удалён во время передачи
		h.logger.Warn("Не удалось засчитать скачивание",
			slog.String("project_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Delete обрабатывает DELETE /api/projects/{id}.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.projects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Проект удалён"})
}

// writeCatalogError транслирует ошибки каталога в HTTP-статусы.
func (h *ProjectsHandler) writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrValidation):
		apierrors.ValidationError(w, userMessage(err, catalog.ErrValidation))
	case errors.Is(err, catalog.ErrNotFound):
		apierrors.NotFound(w, "Проект не найден")
	case errors.Is(err, catalog.ErrBlobMissing):
		apierrors.NotFound(w, "Файл не найден")
	default:
		h.logger.Error("Ошибка операции с каталогом", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeUploadError транслирует ошибку чтения формы загрузки в HTTP-ответ.
func (h *ProjectsHandler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case isTooLarge(err):
		apierrors.FileTooLarge(w, "Файл слишком большой")
	case errors.Is(err, errBlobWrite):
		h.logger.Error("Ошибка сохранения файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось сохранить файл")
	case errors.Is(err, errFieldTooLarge):
		apierrors.ValidationError(w, "Слишком длинное значение поля формы")
	default:
		h.logger.Warn("Ошибка чтения формы загрузки", slog.String("error", err.Error()))
		apierrors.ValidationError(w, "Некорректная multipart-форма")
	}
}

// setWriteDeadline продлевает write deadline соединения.
// При writeTimeout == 0 deadline сервера не меняется.
func (h *ProjectsHandler) setWriteDeadline(w http.ResponseWriter, deadline time.Time) {
	if h.writeTimeout <= 0 {
		return
	}
	// httptest.ResponseRecorder не поддерживает deadline: ошибка игнорируется
	_ = http.NewResponseController(w).SetWriteDeadline(deadline)
}

// downloadWriteDeadline рассчитывает write deadline отдачи файла размера size:
// writeTimeout плюс время передачи на скорости minDownloadRate.
func downloadWriteDeadline(now time.Time, writeTimeout time.Duration, size int64) time.Time {
	transfer := time.Duration(size/minDownloadRate+1) * time.Second
	return now.Add(writeTimeout + transfer)
}

// statusWriter запоминает статус ответа.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// readField читает текстовое поле формы, не более maxFieldSize байт.
func readField(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldSize {
		return "", errFieldTooLarge
	}
	return strings.TrimSpace(string(data)), nil
}

// nonNil гарантирует JSON-массив вместо null.
func nonNil(projects []*model.Project) []*model.Project {
	if projects == nil {
		return []*model.Project{}
	}
	return projects
}
