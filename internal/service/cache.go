// cache.go — LRU-кэш записей для публичных страниц просмотра.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/model"
)

// RecordCache — LRU-кэш записей с автоматическим TTL.
// Ключ — <kind>/<publicId>. Изменение или удаление записи инвалидирует ключ.
type RecordCache struct {
	cache *expirable.LRU[string, *model.Record]
}

// NewRecordCache создаёт кэш с максимальным размером maxSize и временем жизни ttl.
func NewRecordCache(maxSize int, ttl time.Duration) *RecordCache {
	return &RecordCache{cache: expirable.NewLRU[string, *model.Record](maxSize, nil, ttl)}
}

func cacheKey(kind, publicID string) string {
	return kind + "/" + publicID
}

// Get возвращает запись из кэша. Обновляет метрики hit/miss.
func (c *RecordCache) Get(kind, publicID string) (*model.Record, bool) {
	rec, ok := c.cache.Get(cacheKey(kind, publicID))
	if ok {
		cacheRequestsTotal.WithLabelValues("hit").Inc()
		return rec, true
	}
	cacheRequestsTotal.WithLabelValues("miss").Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *RecordCache) Set(rec *model.Record) {
	c.cache.Add(cacheKey(rec.Kind, rec.PublicID), rec)
}

// Invalidate удаляет запись из кэша.
func (c *RecordCache) Invalidate(kind, publicID string) {
	c.cache.Remove(cacheKey(kind, publicID))
}

// Len возвращает количество записей в кэше.
func (c *RecordCache) Len() int {
	return c.cache.Len()
}
