// CaseIndexService — LRU-кэш списков документов дел с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable. Снимает с реестра
// повторные запросы одного и того же дела в коротком окне.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// Prometheus-метрики кэша дел.
var (
	caseIndexHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "am_case_index_hits_total",
		Help: "Общее количество попаданий в кэш списков документов дел.",
	})
	caseIndexMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "am_case_index_misses_total",
		Help: "Общее количество промахов кэша списков документов дел.",
	})
)

// CaseIndexService — per-instance in-memory кэш списков документов дел.
type CaseIndexService struct {
	cache *expirable.LRU[string, []model.CaseDocument]
}

// NewCaseIndexService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество дел в кэше.
// ttl — время жизни списка после добавления.
func NewCaseIndexService(maxSize int, ttl time.Duration) *CaseIndexService {
	cache := expirable.NewLRU[string, []model.CaseDocument](maxSize, nil, ttl)
	return &CaseIndexService{cache: cache}
}

// Get возвращает список документов дела по caseID.
// Возвращает (список, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CaseIndexService) Get(caseID string) ([]model.CaseDocument, bool) {
	val, ok := c.cache.Get(caseID)
	if ok {
		caseIndexHitsTotal.Inc()
		return val, true
	}
	caseIndexMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет список документов дела в кэше.
func (c *CaseIndexService) Set(caseID string, documents []model.CaseDocument) {
	c.cache.Add(caseID, documents)
}

// Invalidate удаляет дело из кэша (после регистрации нового документа).
func (c *CaseIndexService) Invalidate(caseID string) {
	c.cache.Remove(caseID)
}
