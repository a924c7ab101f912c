package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioPartSize: размер части multipart upload при неизвестной длине потока.
const minioPartSize = 16 << 20

// MinioConfig: параметры подключения к S3-совместимому хранилищу.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore: blob-хранилище в bucket MinIO / S3.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore подключается к MinIO и создаёт bucket, если его нет.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("создание клиента MinIO %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("проверка bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("создание bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Bucket создан", slog.String("bucket", cfg.Bucket))
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "minio_store")),
	}, nil
}

// Put загружает поток в bucket под новым ключом.
func (ms *MinioStore) Put(ctx context.Context, r io.Reader, ext string) (*PutResult, error) {
	src, contentType, err := sniff(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}

	key := NewKey(ext)
	info, err := ms.client.PutObject(ctx, ms.bucket, key, src, -1, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    minioPartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("загрузка объекта %s: %w", key, err)
	}

	return &PutResult{Key: key, Size: info.Size, ContentType: contentType}, nil
}

// Get открывает объект для чтения.
func (ms *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	obj, err := ms.client.GetObject(ctx, ms.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ms.mapError(key, err)
	}

	// GetObject ленивый: ошибка отсутствия объекта видна только после Stat
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, ms.mapError(key, err)
	}

	return &Object{ReadSeekCloser: obj, Size: stat.Size, ModTime: stat.LastModified}, nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (ms *MinioStore) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	if err := ms.client.RemoveObject(ctx, ms.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if mapped := ms.mapError(key, err); mapped == ErrNotFound {
			return nil
		}
		return fmt.Errorf("удаление объекта %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие объекта через StatObject.
func (ms *MinioStore) Exists(ctx context.Context, key string) bool {
	if !ValidKey(key) {
		return false
	}

	_, err := ms.client.StatObject(ctx, ms.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if ms.mapError(key, err) != ErrNotFound {
			ms.logger.Warn("Ошибка проверки объекта",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}

// List перечисляет все объекты bucket.
func (ms *MinioStore) List(ctx context.Context) ([]Info, error) {
	var result []Info
	for obj := range ms.client.ListObjects(ctx, ms.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("перечисление объектов bucket %s: %w", ms.bucket, obj.Err)
		}
		result = append(result, Info{Key: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
	}
	return result, nil
}

// mapError преобразует NoSuchKey в ErrNotFound.
func (ms *MinioStore) mapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("объект %s: %w", key, err)
}

var _ Store = (*MinioStore)(nil)
