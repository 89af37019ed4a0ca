package ingestion

import (
	"container/list"
	"context"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/observability"
)

// Deduplicator drops redelivered messages with two tiers: an in-memory LRU
// for recent message IDs and Postgres for the long tail. A DB error on the
// cold path is treated as "not a duplicate" so a database hiccup cannot
// stall ingestion; the call log's sequence conflict still protects the
// durable state.
type Deduplicator struct {
	lru       *dedupLRU
	dbChecker DBDeduplicator
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// DBDeduplicator is the durable lookup/record tier.
type DBDeduplicator interface {
	IsDuplicate(subject string, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, subject string, messageID string) error
}

func NewDeduplicator(capacity int, dbChecker DBDeduplicator, logger zerolog.Logger, metrics *observability.Metrics) *Deduplicator {
	return &Deduplicator{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
		logger:    logger,
		metrics:   metrics,
	}
}

// IsDuplicate reports whether the message has already been processed.
func (d *Deduplicator) IsDuplicate(subject, messageID string) bool {
	key := subject + ":" + messageID

	if d.lru.Contains(key) {
		d.observe(subject, "lru")
		return true
	}

	if d.dbChecker != nil {
		isDup, err := d.dbChecker.IsDuplicate(subject, messageID)
		if err != nil {
			d.logger.Warn().Err(err).Str("subject", subject).Msg("dedup lookup failed, assuming fresh")
			return false
		}
		if isDup {
			d.observe(subject, "postgres")
			d.lru.Add(key)
			return true
		}
	}

	return false
}

// MarkProcessed records the message in both tiers after a successful call.
func (d *Deduplicator) MarkProcessed(ctx context.Context, subject, messageID string) {
	d.lru.Add(subject + ":" + messageID)
	if d.dbChecker != nil {
		if err := d.dbChecker.MarkProcessed(ctx, subject, messageID); err != nil {
			d.logger.Warn().Err(err).Str("subject", subject).Msg("dedup record failed")
		}
	}
}

func (d *Deduplicator) observe(subject, tier string) {
	if d.metrics != nil {
		d.metrics.IngestDuplicates.WithLabelValues(subject, tier).Inc()
	}
}

// dedupLRU is a plain LRU over message keys. Not thread-safe; only the
// single ingestion loop touches it.
type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *dedupLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *dedupLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *dedupLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
	}
}

func (lru *dedupLRU) Size() int {
	return lru.lruList.Len()
}
