package sitemap

import (
	"sort"
	"sync"
)

// VisitedSet records every sitemap URL a traversal has claimed. It is the
// only cycle guard: a URL is fetched at most once per set.
type VisitedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewVisitedSet creates an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{urls: make(map[string]struct{})}
}

// Visit inserts url and reports whether it was absent. The check and the
// insert happen under one lock, so exactly one caller wins per URL.
func (v *VisitedSet) Visit(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.urls[url]; ok {
		return false
	}
	v.urls[url] = struct{}{}
	return true
}

// Contains reports whether url has been visited.
func (v *VisitedSet) Contains(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.urls[url]
	return ok
}

// Len returns the number of visited URLs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}

// ProductSet is a concurrency-safe set of product links.
type ProductSet struct {
	mu    sync.Mutex
	links map[string]struct{}
}

// NewProductSet creates a ProductSet holding links.
func NewProductSet(links ...string) *ProductSet {
	s := &ProductSet{links: make(map[string]struct{}, len(links))}
	for _, l := range links {
		s.links[l] = struct{}{}
	}
	return s
}

// Add inserts link and reports whether it was new.
func (s *ProductSet) Add(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link]; ok {
		return false
	}
	s.links[link] = struct{}{}
	return true
}

// Merge adds every link of other and returns how many were new.
func (s *ProductSet) Merge(other *ProductSet) int {
	if other == nil || other == s {
		return 0
	}
	incoming := other.Sorted()
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, l := range incoming {
		if _, ok := s.links[l]; !ok {
			s.links[l] = struct{}{}
			added++
		}
	}
	return added
}

// Sorted returns the links in lexical order.
func (s *ProductSet) Sorted() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.links))
	for l := range s.links {
		out = append(out, l)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len returns the number of links.
func (s *ProductSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
