package queue

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/models"
)

// testLog returns a log entry that discards output
func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func popURLs(t *testing.T, q *SitemapQueue, n int) []string {
	t.Helper()
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		task, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() #%d returned ok=false", i)
		}
		urls = append(urls, task.URL)
	}
	return urls
}

// --- Basic Operations Tests ---

func TestNewSitemapQueue(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	if q == nil {
		t.Fatal("NewSitemapQueue() returned nil")
	}
	if q.Len() != 0 {
		t.Errorf("New queue Len() = %d, want 0", q.Len())
	}
}

func TestSitemapQueue_AddAndPop(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())

	task := &models.SitemapTask{URL: "https://example.com/sitemap.xml", Depth: 0}
	if !q.Add(task) {
		t.Fatal("Add() on open queue returned false")
	}
	if q.Len() != 1 {
		t.Errorf("After Add, Len() = %d, want 1", q.Len())
	}

	result, ok := q.Pop()
	if !ok {
		t.Fatal("Pop() returned ok=false, want true")
	}
	if result != task {
		t.Errorf("Pop() = %+v, want %+v", result, task)
	}
	if q.Len() != 0 {
		t.Errorf("After Pop, Len() = %d, want 0", q.Len())
	}
}

func TestSitemapQueue_DeepestFirst(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Add(&models.SitemapTask{URL: "depth1", Depth: 1})
	q.Add(&models.SitemapTask{URL: "depth0", Depth: 0})
	q.Add(&models.SitemapTask{URL: "depth3", Depth: 3})
	q.Add(&models.SitemapTask{URL: "depth2", Depth: 2})

	got := popURLs(t, q, 4)
	want := []string{"depth3", "depth2", "depth1", "depth0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Pop order = %v, want %v", got, want)
		}
	}
}

func TestSitemapQueue_ShallowestFirst(t *testing.T) {
	q := NewSitemapQueue(ShallowestFirst, testLog())
	q.Add(&models.SitemapTask{URL: "depth2", Depth: 2})
	q.Add(&models.SitemapTask{URL: "depth0", Depth: 0})
	q.Add(&models.SitemapTask{URL: "depth1", Depth: 1})

	got := popURLs(t, q, 3)
	want := []string{"depth0", "depth1", "depth2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Pop order = %v, want %v", got, want)
		}
	}
}

func TestSitemapQueue_SameDepthIsFIFO(t *testing.T) {
	for _, order := range []Order{DeepestFirst, ShallowestFirst} {
		q := NewSitemapQueue(order, testLog())
		for _, u := range []string{"a", "b", "c", "d", "e"} {
			q.Add(&models.SitemapTask{URL: u, Depth: 1})
		}

		got := popURLs(t, q, 5)
		want := []string{"a", "b", "c", "d", "e"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order %d: Pop order = %v, want %v", order, got, want)
			}
		}
	}
}

// --- Close Tests ---

func TestSitemapQueue_Close(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Close()

	task, ok := q.Pop()
	if ok {
		t.Error("Pop() on closed empty queue returned ok=true, want false")
	}
	if task != nil {
		t.Errorf("Pop() on closed empty queue returned %v, want nil", task)
	}
}

func TestSitemapQueue_CloseWithItems(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Add(&models.SitemapTask{URL: "a", Depth: 0})
	q.Add(&models.SitemapTask{URL: "b", Depth: 1})
	q.Close()

	got := popURLs(t, q, 2)
	if got[0] != "b" || got[1] != "a" {
		t.Errorf("Pop after Close = %v, want [b a]", got)
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop() on drained closed queue returned ok=true")
	}
}

func TestSitemapQueue_AddAfterClose(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Close()

	if q.Add(&models.SitemapTask{URL: "late", Depth: 0}) {
		t.Error("Add() after Close returned true")
	}
	if q.Len() != 0 {
		t.Errorf("Add after Close: Len() = %d, want 0", q.Len())
	}
}

func TestSitemapQueue_DoubleClose(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Close()
	q.Close()
}

func TestSitemapQueue_Drain(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())
	q.Add(&models.SitemapTask{URL: "a", Depth: 0})
	q.Add(&models.SitemapTask{URL: "b", Depth: 2})

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d tasks, want 2", len(drained))
	}
	if drained[0].URL != "b" {
		t.Errorf("Drain()[0] = %q, want %q", drained[0].URL, "b")
	}
	if q.Len() != 0 {
		t.Errorf("After Drain, Len() = %d, want 0", q.Len())
	}
}

// --- Blocking Behavior Tests ---

func TestSitemapQueue_PopBlocks(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())

	resultChan := make(chan *models.SitemapTask, 1)
	go func() {
		task, _ := q.Pop()
		resultChan <- task
	}()

	time.Sleep(50 * time.Millisecond)

	select {
	case <-resultChan:
		t.Fatal("Pop() returned before Add(), should have blocked")
	default:
	}

	q.Add(&models.SitemapTask{URL: "unblock", Depth: 0})

	select {
	case task := <-resultChan:
		if task == nil || task.URL != "unblock" {
			t.Errorf("Pop() = %v, want task unblock", task)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Pop() did not return after Add()")
	}
}

func TestSitemapQueue_CloseUnblocksWaiters(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			results <- ok
		}()
	}

	time.Sleep(50 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Close() did not unblock waiting goroutines")
	}

	close(results)
	for ok := range results {
		if ok {
			t.Error("Blocked Pop() returned ok=true after Close()")
		}
	}
}

// --- Concurrency Tests ---

func TestSitemapQueue_ConcurrentAddPop(t *testing.T) {
	q := NewSitemapQueue(DeepestFirst, testLog())

	const producers, consumers, perProducer = 5, 3, 20

	var popped int
	var countMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, ok := q.Pop(); !ok {
					return
				}
				countMu.Lock()
				popped++
				countMu.Unlock()
			}
		}()
	}

	var producerWg sync.WaitGroup
	for i := 0; i < producers; i++ {
		producerWg.Add(1)
		go func(id int) {
			defer producerWg.Done()
			for j := 0; j < perProducer; j++ {
				q.Add(&models.SitemapTask{URL: "https://example.com/sitemap.xml", Depth: id})
			}
		}(i)
	}

	producerWg.Wait()
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Consumers did not finish in time")
	}

	countMu.Lock()
	defer countMu.Unlock()
	if popped != producers*perProducer {
		t.Errorf("Popped %d tasks, want %d", popped, producers*perProducer)
	}
}
