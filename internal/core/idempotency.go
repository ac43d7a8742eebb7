package core

import (
	"container/list"
	"fmt"
)

// DBDedupChecker is the cold-path lookup against the event log.
type DBDedupChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// DedupIndex deduplicates events in two tiers: a hot in-memory LRU of
// recent composite keys, backed by the Postgres event log for anything
// evicted. A DB error degrades to "not a duplicate" rather than blocking
// processing; the event log's unique constraint is the last line.
//
// Not thread-safe; callers hold the engine's write lock.
type DedupIndex struct {
	lru       *keyLRU
	dbChecker DBDedupChecker

	lruHits  int64
	dbHits   int64
	dbErrors int64
}

func NewDedupIndex(capacity int, dbChecker DBDedupChecker) *DedupIndex {
	return &DedupIndex{
		lru:       newKeyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// Seen reports whether the event was already processed.
func (d *DedupIndex) Seen(eventType, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if d.lru.Contains(key) {
		d.lruHits++
		return true
	}

	if d.dbChecker != nil {
		dup, err := d.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			d.dbErrors++
			return false
		}
		if dup {
			d.dbHits++
			d.lru.Add(key)
			return true
		}
	}
	return false
}

// SetDBChecker installs or replaces the cold-path lookup. During replay the
// checker must be nil: every replayed event already exists in the log, and a
// live lookup would flag all of them as duplicates.
func (d *DedupIndex) SetDBChecker(c DBDedupChecker) {
	d.dbChecker = c
}

// Record marks the event as processed.
func (d *DedupIndex) Record(eventType, idempotencyKey string) {
	d.lru.Add(compositeKey(eventType, idempotencyKey))
}

// Warm preloads composite keys, used on restart to avoid cold DB lookups.
func (d *DedupIndex) Warm(keys []string) {
	for _, key := range keys {
		d.lru.Add(key)
	}
}

// Keys returns the cached composite keys, newest first, for snapshots.
func (d *DedupIndex) Keys() []string {
	return d.lru.Keys()
}

// Stats returns hit and error counters for logging.
func (d *DedupIndex) Stats() (lruHits, dbHits, dbErrors int64) {
	return d.lruHits, d.dbHits, d.dbErrors
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// keyLRU is a bounded set of strings with least-recently-used eviction.
type keyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List // front = most recent
}

func newKeyLRU(capacity int) *keyLRU {
	return &keyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *keyLRU) Contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *keyLRU) Add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(string))
	}
}

func (l *keyLRU) Keys() []string {
	keys := make([]string, 0, l.order.Len())
	for e := l.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}
