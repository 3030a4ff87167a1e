package orchestrator

import (
	"sort"
	"sync"

	"github.com/lazypower/aide/internal/domain"
)

// queued is an intent waiting for the action loop with the decision made
// at submission time.
type queued struct {
	intent    domain.Intent
	decision  domain.Decision
	tool      domain.Capability
	historyID string
	goalID    string
	seq       uint64
}

// intentQueue is kept sorted by descending priority; equal priorities keep
// arrival order.
type intentQueue struct {
	mu    sync.Mutex
	items []*queued
	seq   uint64
	limit int
}

func newIntentQueue(limit int) *intentQueue {
	return &intentQueue{limit: limit}
}

// push inserts q after every item of equal or higher priority. It reports
// false when the queue is full.
func (q *intentQueue) push(item *queued) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.seq++
	item.seq = q.seq
	p := item.intent.Priority
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].intent.Priority < p })
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
	return true
}

func (q *intentQueue) pop() (*queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *intentQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *intentQueue) snapshot() []domain.Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Intent, len(q.items))
	for i, item := range q.items {
		out[i] = item.intent
	}
	return out
}
