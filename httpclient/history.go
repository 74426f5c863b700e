package httpclient

import "sync"

// HistoryEntry records one issued request for later assertions (spec
// §4.4.5 "Records a history of issued requests").
type HistoryEntry struct {
	Method    string
	URL       string
	Header    map[string][]string
	FromCache bool
	Status    int
}

// History is a thread-safe log of requests issued by a Client.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func newHistory() *History { return &History{} }

func (h *History) record(req *Request, resp *Response, fromCache bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	method := req.Method
	if fromCache {
		method = method + " (FROM CACHE)"
	}
	h.entries = append(h.entries, HistoryEntry{
		Method:    method,
		URL:       req.URL,
		Header:    req.Header,
		FromCache: fromCache,
		Status:    resp.StatusCode,
	})
}

// Entries returns a snapshot of all recorded requests.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Count returns the number of requests recorded, optionally filtered to a
// URL (spec §4.4.5 assertRequestCount).
func (h *History) Count(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if url == "" {
		return len(h.entries)
	}
	n := 0
	for _, e := range h.entries {
		if e.URL == url {
			n++
		}
	}
	return n
}

// Made reports whether a request matching method+url was issued (spec
// §4.4.5 assertRequestMade).
func (h *History) Made(method, url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.Method == method && e.URL == url {
			return true
		}
	}
	return false
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
