// reconcile.go: фоновая сверка blob-хранилища с каталогом.
//
// Загрузка пишет blob раньше записи каталога, поэтому сбой процесса
// между этими шагами оставляет blob без записи. Сверка находит:
//   - orphan_blob: blob без записи каталога. Удаляется, если старше
//     grace-периода (более свежий может принадлежать загрузке в процессе).
//   - missing_blob: запись каталога без blob. Только отчёт: скачивание
//     такой записи уже отвечает 404, а удалять ли запись, решает пользователь.
//
// Запускается при старте, по тикеру (PH_RECONCILE_INTERVAL) и по запросу
// POST /api/maintenance/reconcile.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/catalog"
)

// Типы проблем сверки.
const (
	IssueOrphanBlob  = "orphan_blob"
	IssueMissingBlob = "missing_blob"
)

// Prometheus-метрики сверки.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ph_reconcile_runs_total",
		Help: "Общее количество запусков сверки.",
	})
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ph_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой.",
	}, []string{"type"})
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ph_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReconcileIssue: обнаруженное расхождение.
type ReconcileIssue struct {
	Type string `json:"type"`
	// Key: ключ blob
	Key string `json:"key"`
	// ProjectID: id записи (только для missing_blob)
	ProjectID string `json:"projectId,omitempty"`
	// Removed: blob удалён сверкой
	Removed bool `json:"removed"`
}

// ReconcileSummary: сводка сверки.
type ReconcileSummary struct {
	OrphansRemoved int `json:"orphansRemoved"`
	// OrphansPending: blob без записи моложе grace-периода
	OrphansPending int `json:"orphansPending"`
	MissingBlobs   int `json:"missingBlobs"`
}

// ReconcileReport: результат одного запуска сверки.
type ReconcileReport struct {
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
	BlobsChecked   int              `json:"blobsChecked"`
	RecordsChecked int              `json:"recordsChecked"`
	Issues         []ReconcileIssue `json:"issues"`
	Summary        ReconcileSummary `json:"summary"`
}

// ReconcileService: сервис сверки.
type ReconcileService struct {
	blobs    blob.Store
	catalog  *catalog.Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	blobs blob.Store,
	cat *catalog.Store,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:    blobs,
		catalog:  cat,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start выполняет сверку и запускает фоновую горутину с тикером.
// При interval == 0 выполняется только начальная сверка.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace", rs.grace.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается её завершения.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run: основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	rs.RunOnce(ctx)

	if rs.interval <= 0 {
		return
	}

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{
		StartedAt: rs.now().UTC(),
		Issues:    []ReconcileIssue{},
	}

	rs.reconcile(ctx, report)

	report.CompletedAt = rs.now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(issue.Type).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("blobs_checked", report.BlobsChecked),
		slog.Int("records_checked", report.RecordsChecked),
		slog.Int("orphans_removed", report.Summary.OrphansRemoved),
		slog.Int("orphans_pending", report.Summary.OrphansPending),
		slog.Int("missing_blobs", report.Summary.MissingBlobs),
		slog.Duration("duration", duration),
	)

	return report, false
}

// reconcile сравнивает blob-хранилище с каталогом и заполняет report.
func (rs *ReconcileService) reconcile(ctx context.Context, report *ReconcileReport) {
	// Снимок каталога берётся до перечисления blob: запись, созданная позже,
	// ссылается на blob моложе grace-периода и не будет удалена.
	keys := rs.catalog.Keys()
	report.RecordsChecked = len(keys)

	infos, err := rs.blobs.List(ctx)
	if err != nil {
		rs.logger.Error("Ошибка перечисления blob",
			slog.String("error", err.Error()),
		)
		return
	}
	report.BlobsChecked = len(infos)

	present := make(map[string]bool, len(infos))
	cutoff := rs.now().Add(-rs.grace)

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	for _, info := range infos {
		present[info.Key] = true
		if _, ok := keys[info.Key]; ok {
			continue
		}

		if info.ModTime.After(cutoff) {
			report.Summary.OrphansPending++
			continue
		}

		issue := ReconcileIssue{Type: IssueOrphanBlob, Key: info.Key}
		if err := rs.blobs.Delete(ctx, info.Key); err != nil {
			rs.logger.Warn("Не удалось удалить blob без записи",
				slog.String("key", info.Key),
				slog.String("error", err.Error()),
			)
		} else {
			issue.Removed = true
			report.Summary.OrphansRemoved++
		}
		report.Issues = append(report.Issues, issue)
	}

	missing := make([]ReconcileIssue, 0)
	for key, projectID := range keys {
		if present[key] {
			continue
		}
		missing = append(missing, ReconcileIssue{Type: IssueMissingBlob, Key: key, ProjectID: projectID})
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Key < missing[j].Key })

	for _, issue := range missing {
		rs.logger.Warn("Запись каталога без файла",
			slog.String("project_id", issue.ProjectID),
			slog.String("key", issue.Key),
		)
	}
	report.Summary.MissingBlobs = len(missing)
	report.Issues = append(report.Issues, missing...)
}
