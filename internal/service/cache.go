// cache.go: LRU-кэш результатов поиска с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/projecthub/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ph_search_cache_hits_total",
		Help: "Общее количество попаданий в кэш результатов поиска.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ph_search_cache_misses_total",
		Help: "Общее количество промахов кэша результатов поиска.",
	})
)

// SearchCache: кэш результатов поиска по паре (запрос, категория).
// Любая мутация каталога должна вызывать Purge. Закэшированные срезы
// разделяются между вызовами и не должны изменяться.
//
// Поколение увеличивается при каждом Purge. Результат, прочитанный из
// каталога до мутации, не попадает в кэш после её Purge. Set принимает
// поколение, снятое до чтения каталога, и отбрасывает устаревшие данные.
type SearchCache struct {
	cache *expirable.LRU[string, []*model.Project]

	mu         sync.Mutex
	generation uint64
}

// NewSearchCache создаёт кэш на maxSize результатов с временем жизни ttl.
// При maxSize <= 0 возвращает nil: методы nil-кэша безопасны и ничего не кэшируют.
func NewSearchCache(maxSize int, ttl time.Duration) *SearchCache {
	if maxSize <= 0 {
		return nil
	}
	return &SearchCache{cache: expirable.NewLRU[string, []*model.Project](maxSize, nil, ttl)}
}

// Get возвращает закэшированный результат.
func (c *SearchCache) Get(query, category string) ([]*model.Project, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(cacheKey(query, category))
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Generation возвращает текущее поколение кэша. Снимается до чтения каталога.
func (c *SearchCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set сохраняет результат поиска, прочитанный в поколении gen.
// Если после этого был Purge, результат отбрасывается.
func (c *SearchCache) Set(query, category string, result []*model.Project, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.cache.Add(cacheKey(query, category), result)
}

// Purge очищает кэш и начинает новое поколение.
func (c *SearchCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *SearchCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

func cacheKey(query, category string) string {
	return query + "\x00" + category
}
