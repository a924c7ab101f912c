// Пакет blob: хранилище бинарного содержимого загруженных файлов.
// Ключ blob генерируется сервером ({uuid}{ext}) и не зависит от имени
// файла пользователя, что исключает path traversal и коллизии.
package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrNotFound: blob с указанным ключом отсутствует.
var ErrNotFound = errors.New("blob не найден")

// ErrInvalidKey: ключ содержит недопустимые символы.
var ErrInvalidKey = errors.New("недопустимый ключ blob")

// sniffLimit: сколько байт начала потока используется для определения MIME-типа.
const sniffLimit = 3072

// maxKeyLen: предел длины имени файла в большинстве файловых систем.
const maxKeyLen = 255

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)

// Store: хранилище blob. Реализации: FileStore (локальный диск)
// и MinioStore (S3-совместимый bucket).
type Store interface {
	// Put записывает поток под новым сгенерированным ключом,
	// сохраняя расширение ext.
	Put(ctx context.Context, r io.Reader, ext string) (*PutResult, error)
	// Get открывает blob для чтения. ErrNotFound, если его нет.
	// Вызывающий код обязан закрыть Object.
	Get(ctx context.Context, key string) (*Object, error)
	// Delete удаляет blob. Отсутствие blob не является ошибкой.
	Delete(ctx context.Context, key string) error
	// Exists проверяет наличие blob.
	Exists(ctx context.Context, key string) bool
	// List возвращает все blob хранилища.
	List(ctx context.Context) ([]Info, error)
}

// PutResult: результат записи blob.
type PutResult struct {
	// Key: сгенерированный ключ
	Key string
	// Size: количество записанных байт
	Size int64
	// ContentType: MIME-тип, определённый по содержимому
	ContentType string
}

// Object: открытый для чтения blob.
type Object struct {
	io.ReadSeekCloser
	// Size: размер в байтах
	Size int64
	// ModTime: время последнего изменения
	ModTime time.Time
}

// Info: сведения о blob для сверки.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// NewKey генерирует ключ blob: UUID v4 плюс нормализованное расширение.
// Расширение, не похожее на обычное (.jpg, .tar), отбрасывается.
func NewKey(ext string) string {
	return uuid.NewString() + NormalizeExt(ext)
}

// NormalizeExt приводит расширение к нижнему регистру и проверяет формат.
// Возвращает пустую строку для недопустимых расширений.
func NormalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !extPattern.MatchString(ext) {
		return ""
	}
	return strings.ToLower(ext)
}

// ValidKey проверяет, что ключ не может выйти за пределы хранилища:
// один элемент пути без разделителей и NUL. Состав символов не
// ограничивается, ключи ранее созданных каталогов могут нести
// произвольное расширение (".тест", ".tar-gz").
func ValidKey(key string) bool {
	if key == "" || len(key) > maxKeyLen || !utf8.ValidString(key) {
		return false
	}
	if key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}

// sniff читает начало потока, определяет MIME-тип и возвращает reader,
// который отдаёт поток целиком, включая прочитанный префикс.
func sniff(r io.Reader) (io.Reader, string, error) {
	head := make([]byte, sniffLimit)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	head = head[:n]

	contentType := mimetype.Detect(head).String()
	return io.MultiReader(bytes.NewReader(head), r), contentType, nil
}
