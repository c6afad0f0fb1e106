package connection

import (
	"strings"
	"sync"
)

// Endpoints is the ordered candidate list. It may be changed at runtime;
// readers take a Snapshot.
type Endpoints struct {
	mu   sync.RWMutex
	urls []string
}

// NewEndpoints builds a list, dropping blanks and duplicates.
func NewEndpoints(urls ...string) *Endpoints {
	e := &Endpoints{}
	for _, u := range urls {
		e.add(u)
	}
	return e
}

func (e *Endpoints) add(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	for _, existing := range e.urls {
		if existing == url {
			return
		}
	}
	e.urls = append(e.urls, url)
}

// Prepend moves url to the front, inserting it if absent.
func (e *Endpoints) Prepend(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.urls)+1)
	out = append(out, url)
	for _, existing := range e.urls {
		if existing != url {
			out = append(out, existing)
		}
	}
	e.urls = out
}

// Append adds url at the end unless already present.
func (e *Endpoints) Append(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add(url)
}

// Remove drops url. It reports whether it was present.
func (e *Endpoints) Remove(url string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.urls {
		if existing == url {
			e.urls = append(e.urls[:i:i], e.urls[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the list.
func (e *Endpoints) Snapshot() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.urls...)
}

// Len returns the number of candidates.
func (e *Endpoints) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.urls)
}
