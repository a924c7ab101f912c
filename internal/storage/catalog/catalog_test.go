package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
)

// testLogger создаёт логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv: каталог и blob-хранилище во временной директории.
type testEnv struct {
	store *Store
	blobs *blob.FileStore
	path  string
}

// newTestEnv открывает пустой каталог с детерминированным временем.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()

	blobs, err := blob.NewFileStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	path := filepath.Join(dir, "data", "projects.json")
	store, err := Open(path, blobs, testLogger(), opts...)
	if err != nil {
		t.Fatalf("ошибка Open: %v", err)
	}
	return &testEnv{store: store, blobs: blobs, path: path}
}

// putBlob записывает содержимое и возвращает ссылку для Create.
func (e *testEnv) putBlob(t *testing.T, content, originalName string) BlobRef {
	t.Helper()
	res, err := e.blobs.Put(context.Background(), strings.NewReader(content), filepath.Ext(originalName))
	if err != nil {
		t.Fatalf("ошибка Put: %v", err)
	}
	return BlobRef{Key: res.Key, OriginalName: originalName, ContentType: res.ContentType, Size: res.Size}
}

// steppingClock возвращает часы, которые сдвигаются на минуту при каждом вызове.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

// TestOpen_CreatesEmptyFile проверяет создание файла каталога при первом запуске.
func TestOpen_CreatesEmptyFile(t *testing.T) {
	env := newTestEnv(t)

	data, err := os.ReadFile(env.path)
	if err != nil {
		t.Fatalf("файл каталога не создан: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("ожидался пустой массив, получено %q", data)
	}
	if !env.store.IsReady() {
		t.Error("каталог должен быть готов после Open")
	}
	if env.store.Count() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", env.store.Count())
	}
}

// TestOpen_CorruptFile проверяет, что повреждённый файл не перезаписывается.
func TestOpen_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}
	blobs, _ := blob.NewFileStore(filepath.Join(dir, "uploads"))

	if _, err := Open(path, blobs, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка для повреждённого файла")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("повреждённый файл не должен изменяться")
	}
}

// TestCreate_RoundTrip проверяет создание записи и чтение через List/Get.
func TestCreate_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putBlob(t, strings.Repeat("x", 2048), "site.zip")

	p, err := env.store.Create(Fields{
		Name:        "  Site  ",
		Description: "Landing page",
		Tags:        "web, html,,  ",
	}, ref)
	if err != nil {
		t.Fatalf("ошибка Create: %v", err)
	}

	if p.ID == "" {
		t.Error("id должен быть назначен")
	}
	if p.Name != "Site" {
		t.Errorf("Name = %q, ожидалось Site", p.Name)
	}
	if p.Category != "Other" {
		t.Errorf("Category = %q, ожидалась категория по умолчанию", p.Category)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "web" || p.Tags[1] != "html" {
		t.Errorf("Tags = %v", p.Tags)
	}
	if p.FileSize != "2.0 KB" || p.FileSizeBytes != 2048 {
		t.Errorf("размер: %q / %d", p.FileSize, p.FileSizeBytes)
	}
	if p.Downloads != 0 {
		t.Errorf("Downloads = %d", p.Downloads)
	}
	if p.FileName != ref.Key || p.OriginalName != "site.zip" {
		t.Errorf("ссылка на файл: %q / %q", p.FileName, p.OriginalName)
	}

	got, err := env.store.Get(p.ID)
	if err != nil {
		t.Fatalf("ошибка Get: %v", err)
	}
	if got.Name != p.Name || !got.UploadedAt.Equal(p.UploadedAt) {
		t.Errorf("Get вернул другую запись: %+v", got)
	}

	list := env.store.List()
	if len(list) != 1 || list[0].ID != p.ID {
		t.Errorf("List: %+v", list)
	}
}

// TestCreate_Validation проверяет отказ при пустом названии и отсутствии файла.
func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putBlob(t, "data", "a.txt")

	if _, err := env.store.Create(Fields{Name: "   "}, ref); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое название: ожидалась ErrValidation, получено %v", err)
	}
	if _, err := env.store.Create(Fields{Name: "A"}, BlobRef{}); !errors.Is(err, ErrValidation) {
		t.Errorf("без файла: ожидалась ErrValidation, получено %v", err)
	}
	if env.store.Count() != 0 {
		t.Errorf("после ошибок каталог должен быть пустым, получено %d", env.store.Count())
	}
}

// TestCreate_ReusedID проверяет, что занятый id не выдаётся повторно.
func TestCreate_ReusedID(t *testing.T) {
	ids := []string{"p1", "p1", "p2"}
	var i int
	env := newTestEnv(t, WithIDGenerator(func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}))

	a, err := env.store.Create(Fields{Name: "A"}, env.putBlob(t, "a", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.store.Create(Fields{Name: "B"}, env.putBlob(t, "b", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "p1" || b.ID != "p2" {
		t.Errorf("ожидались id p1 и p2, получены %s и %s", a.ID, b.ID)
	}
}

// TestList_NewestFirst проверяет порядок по убыванию времени загрузки.
func TestList_NewestFirst(t *testing.T) {
	env := newTestEnv(t, WithClock(steppingClock()))

	for _, name := range []string{"t1", "t2", "t3"} {
		if _, err := env.store.Create(Fields{Name: name}, env.putBlob(t, name, name+".txt")); err != nil {
			t.Fatal(err)
		}
	}

	list := env.store.List()
	if len(list) != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", len(list))
	}
	want := []string{"t3", "t2", "t1"}
	for i, p := range list {
		if p.Name != want[i] {
			t.Errorf("позиция %d: ожидалось %s, получено %s", i, want[i], p.Name)
		}
	}
}

// TestSearch проверяет фильтрацию по запросу и категории.
func TestSearch(t *testing.T) {
	env := newTestEnv(t, WithClock(steppingClock()))

	create := func(name, desc, category, tags string) {
		t.Helper()
		if _, err := env.store.Create(Fields{Name: name, Description: desc, Category: category, Tags: tags},
			env.putBlob(t, name, name+".txt")); err != nil {
			t.Fatal(err)
		}
	}
	create("Portfolio", "Personal WEBSITE", "Web", "html")
	create("Game", "Arcade", "Games", "webgl, js")
	create("Notes", "Plain text", "Docs", "")

	tests := []struct {
		name     string
		query    string
		category string
		want     []string
	}{
		{"пустой запрос", "", "", []string{"Notes", "Game", "Portfolio"}},
		{"описание и тег", "web", "", []string{"Game", "Portfolio"}},
		{"с категорией", "web", "Web", []string{"Portfolio"}},
		{"категория all", "web", "all", []string{"Game", "Portfolio"}},
		{"регистр названия", "NOTES", "", []string{"Notes"}},
		{"нет совпадений", "zzz", "", nil},
		{"категория регистрозависима", "", "web", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := env.store.Search(tt.query, tt.category)
			if len(got) != len(tt.want) {
				t.Fatalf("ожидалось %d записей, получено %d", len(tt.want), len(got))
			}
			for i, p := range got {
				if p.Name != tt.want[i] {
					t.Errorf("позиция %d: ожидалось %s, получено %s", i, tt.want[i], p.Name)
				}
			}
		})
	}
}

// TestDelete проверяет удаление записи и blob, повторное удаление возвращает ErrNotFound.
func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.putBlob(t, "data", "a.txt")

	p, err := env.store.Create(Fields{Name: "A"}, ref)
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := env.store.Delete(ctx, p.ID)
	if err != nil {
		t.Fatalf("ошибка Delete: %v", err)
	}
	if deleted.ID != p.ID {
		t.Errorf("удалена не та запись: %s", deleted.ID)
	}
	if env.blobs.Exists(ctx, ref.Key) {
		t.Error("blob должен быть удалён")
	}
	if _, err := env.store.Get(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get после удаления: ожидалась ErrNotFound, получено %v", err)
	}

	if _, err := env.store.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
}

// TestDelete_MissingBlob проверяет удаление записи, чей blob уже отсутствует.
func TestDelete_MissingBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.putBlob(t, "data", "a.txt")

	p, _ := env.store.Create(Fields{Name: "A"}, ref)
	if err := env.blobs.Delete(ctx, ref.Key); err != nil {
		t.Fatal(err)
	}

	if _, err := env.store.Delete(ctx, p.ID); err != nil {
		t.Fatalf("ожидалось успешное удаление, получено %v", err)
	}
	if env.store.Count() != 0 {
		t.Error("запись должна быть удалена")
	}
}

// TestRecordDownload проверяет инкремент счётчика и ошибки.
func TestRecordDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.putBlob(t, "data", "a.txt")
	p, _ := env.store.Create(Fields{Name: "A"}, ref)

	got, err := env.store.RecordDownload(ctx, p.ID)
	if err != nil {
		t.Fatalf("ошибка RecordDownload: %v", err)
	}
	if got.Downloads != 1 {
		t.Errorf("Downloads = %d, ожидалось 1", got.Downloads)
	}

	if _, err := env.store.RecordDownload(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный id: ожидалась ErrNotFound, получено %v", err)
	}

	if err := env.blobs.Delete(ctx, ref.Key); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.RecordDownload(ctx, p.ID); !errors.Is(err, ErrBlobMissing) {
		t.Errorf("без blob: ожидалась ErrBlobMissing, получено %v", err)
	}

	after, _ := env.store.Get(p.ID)
	if after.Downloads != 1 {
		t.Errorf("счётчик не должен меняться без blob: %d", after.Downloads)
	}
}

// TestRecordDownload_Concurrent проверяет отсутствие потерянных обновлений.
func TestRecordDownload_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _ := env.store.Create(Fields{Name: "A"}, env.putBlob(t, "data", "a.txt"))

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.store.RecordDownload(ctx, p.ID); err != nil {
				t.Errorf("ошибка RecordDownload: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := env.store.Get(p.ID)
	if got.Downloads != n {
		t.Errorf("Downloads = %d, ожидалось %d", got.Downloads, n)
	}

	// Файл отражает то же значение
	reopened, err := Open(env.path, env.blobs, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, _ = reopened.Get(p.ID)
	if got.Downloads != n {
		t.Errorf("после перезагрузки Downloads = %d, ожидалось %d", got.Downloads, n)
	}
}

// TestCreate_Concurrent проверяет, что параллельные создания не теряются.
func TestCreate_Concurrent(t *testing.T) {
	env := newTestEnv(t)

	const n = 20
	refs := make([]BlobRef, n)
	for i := range refs {
		refs[i] = env.putBlob(t, fmt.Sprintf("data-%d", i), "a.txt")
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.store.Create(Fields{Name: fmt.Sprintf("P%d", i)}, refs[i]); err != nil {
				t.Errorf("ошибка Create: %v", err)
			}
		}()
	}
	wg.Wait()

	if env.store.Count() != n {
		t.Errorf("Count = %d, ожидалось %d", env.store.Count(), n)
	}
}

// TestReopen проверяет сохранность данных между запусками.
func TestReopen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, _ := env.store.Create(Fields{Name: "A", Category: "Web", Tags: "x"}, env.putBlob(t, "aaaa", "a.txt"))
	b, _ := env.store.Create(Fields{Name: "B"}, env.putBlob(t, "bb", "b.txt"))
	if _, err := env.store.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(env.path, env.blobs, testLogger())
	if err != nil {
		t.Fatalf("ошибка повторного Open: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", reopened.Count())
	}
	got, err := reopened.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != "Web" || len(got.Tags) != 1 || got.Tags[0] != "x" {
		t.Errorf("запись восстановлена неверно: %+v", got)
	}
	if reopened.TotalBytes() != 4 {
		t.Errorf("TotalBytes = %d, ожидалось 4", reopened.TotalBytes())
	}
	if _, ok := reopened.Keys()[a.FileName]; !ok {
		t.Error("Keys должен содержать ключ blob записи")
	}
}

// TestGet_ReturnsCopy проверяет, что изменение результата не влияет на каталог.
func TestGet_ReturnsCopy(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.store.Create(Fields{Name: "A", Tags: "x"}, env.putBlob(t, "a", "a.txt"))

	got, _ := env.store.Get(p.ID)
	got.Name = "changed"
	got.Tags[0] = "changed"

	again, _ := env.store.Get(p.ID)
	if again.Name != "A" || again.Tags[0] != "x" {
		t.Errorf("каталог изменён через копию: %+v", again)
	}
}
