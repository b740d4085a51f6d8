package queue

import (
	"container/heap"
	"sync"

	"github.com/Sriram-PR/product-scout/pkg/models"

	"github.com/sirupsen/logrus"
)

// Order selects which depth is served first
type Order int

const (
	DeepestFirst    Order = iota // Finish a sub-tree before moving to the next sibling
	ShallowestFirst              // Breadth-first sweep of the sitemap graph
)

// pqItem is one queued task. seq breaks ties so equal-depth tasks pop in insertion order
type pqItem struct {
	task  *models.SitemapTask
	depth int
	seq   uint64
	index int
}

type taskHeap struct {
	items []*pqItem
	order Order
}

func (h taskHeap) Len() int { return len(h.items) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.depth != b.depth {
		if h.order == DeepestFirst {
			return a.depth > b.depth
		}
		return a.depth < b.depth
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *taskHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[:n-1]
	return item
}

// SitemapQueue is a blocking, closable priority queue of sitemap tasks
type SitemapQueue struct {
	h       taskHeap
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	nextSeq uint64
	log     *logrus.Entry
}

// NewSitemapQueue creates an empty queue serving tasks in the given order
func NewSitemapQueue(order Order, log *logrus.Entry) *SitemapQueue {
	q := &SitemapQueue{h: taskHeap{order: order}, log: log}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Add pushes a task. Returns false if the queue is already closed.
func (q *SitemapQueue) Add(task *models.SitemapTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Dropping sitemap task, queue closed: %s", task.URL)
		return false
	}

	heap.Push(&q.h, &pqItem{task: task, depth: task.Depth, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal()
	return true
}

// Pop blocks until a task is available or the queue is closed and drained.
// Returns nil, false once closed and empty.
func (q *SitemapQueue) Pop() (*models.SitemapTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.h.Len() == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}

	item := heap.Pop(&q.h).(*pqItem)
	return item.task, true
}

// Close stops further Adds and wakes every blocked Pop
func (q *SitemapQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Drain empties the queue and returns the tasks that were never popped
func (q *SitemapQueue) Drain() []*models.SitemapTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.SitemapTask, 0, q.h.Len())
	for q.h.Len() > 0 {
		out = append(out, heap.Pop(&q.h).(*pqItem).task)
	}
	return out
}

// Len returns the number of queued tasks
func (q *SitemapQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
