package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tmpSuffix: суффикс временных файлов, которые ещё не переименованы.
const tmpSuffix = ".tmp"

// FileStore: blob-хранилище в локальной директории.
type FileStore struct {
	// dir: корневая директория хранения
	dir string
}

// NewFileStore создаёт FileStore. Создаёт директорию, если её нет.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir возвращает путь к директории хранения.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Put записывает поток на диск.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(ctx context.Context, r io.Reader, ext string) (*PutResult, error) {
	src, contentType, err := sniff(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}

	key := NewKey(ext)
	fullPath := filepath.Join(fs.dir, key)
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, contextReader{ctx: ctx, r: src})
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{Key: key, Size: size, ContentType: contentType}, nil
}

// Get открывает файл для чтения.
func (fs *FileStore) Get(_ context.Context, key string) (*Object, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	f, err := os.Open(filepath.Join(fs.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения stat файла %s: %w", key, err)
	}

	return &Object{ReadSeekCloser: f, Size: stat.Size(), ModTime: stat.ModTime()}, nil
}

// Delete удаляет файл. Возвращает nil, если файл уже не существует.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	err := os.Remove(filepath.Join(fs.dir, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование файла.
func (fs *FileStore) Exists(_ context.Context, key string) bool {
	if !ValidKey(key) {
		return false
	}
	info, err := os.Stat(filepath.Join(fs.dir, key))
	return err == nil && info.Mode().IsRegular()
}

// List возвращает все файлы директории, кроме временных.
// Не рекурсивный.
func (fs *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", fs.dir, err)
	}

	result := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("ошибка получения информации о %s: %w", e.Name(), err)
		}
		result = append(result, Info{Key: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return result, nil
}

// contextReader прерывает копирование при отмене контекста
// (например, клиент оборвал загрузку).
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

var _ Store = (*FileStore)(nil)
