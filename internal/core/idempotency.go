package core

import (
	"container/list"

	"VaultLedger/internal/observability"
)

// IdempotencyChecker deduplicates commands in two tiers: a bounded LRU of
// recent keys, then the event log.
type IdempotencyChecker struct {
	recent    *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics // nil in tests and the simulator
}

// DBIdempotencyChecker looks a command up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		recent:    NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func dedupKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already applied. A failing
// event log lookup counts as not seen: the LRU covers recent retries and
// the log's unique index rejects the rest at write time.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := dedupKey(eventType, idempotencyKey)
	if ic.recent.Contains(key) {
		ic.countDuplicate(eventType, "lru")
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	seen, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.IdempotencyLookupErrors.Inc()
		}
		return false
	}
	if seen {
		ic.countDuplicate(eventType, "postgres")
		ic.recent.Add(key)
	}
	return seen
}

// IsKnown checks the LRU only.
func (ic *IdempotencyChecker) IsKnown(eventType string, idempotencyKey string) bool {
	return ic.recent.Contains(dedupKey(eventType, idempotencyKey))
}

// MarkProcessed remembers an applied command.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.recent.Add(dedupKey(eventType, idempotencyKey))
}

func (ic *IdempotencyChecker) countDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// IdempotencyLRU is a bounded set of "<type>:<key>" strings, evicting the
// least recently used. Only the core goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List // front is most recent; values are string keys
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and promotes a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)
	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
	}
}

// WarmFromKeys adds keys oldest first, so the last key ends up most recent.
// Restore uses it with the snapshot's keys.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns the keys oldest first, the order WarmFromKeys expects.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}
