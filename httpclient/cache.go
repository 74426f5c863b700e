package httpclient

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache stores cacheable Responses keyed by fingerprint (spec §4.4.3).
type Cache interface {
	Get(fingerprint string) (*Response, bool)
	Set(fingerprint string, resp *Response, ttl time.Duration)
	Reset()
}

// varyHeaders lists request headers that participate in the cache
// fingerprint when present, matching common CDN/cache-control practice.
var varyHeaders = []string{"Accept", "Accept-Encoding", "Authorization"}

// fingerprint hashes (method, normalized URL, selected varying headers,
// and — for non-GET requests that opt in — a body hash) per spec §4.4.3.
func fingerprint(req *Request) string {
	u, err := url.Parse(req.URL)
	var normalized string
	if err == nil {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(u.Scheme)
		sb.WriteString("://")
		sb.WriteString(strings.ToLower(u.Host))
		sb.WriteString(u.Path)
		for _, k := range keys {
			sb.WriteString("?")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(strings.Join(q[k], ","))
		}
		normalized = sb.String()
	} else {
		normalized = req.URL
	}

	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	for _, name := range varyHeaders {
		if vs, ok := req.Header[name]; ok {
			h.Write([]byte{0})
			h.Write([]byte(name))
			h.Write([]byte("="))
			h.Write([]byte(strings.Join(vs, ",")))
		}
	}
	if req.Method != "GET" && req.CacheVaryBody {
		h.Write([]byte{0})
		h.Write(req.Body)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	resp      *Response
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache with per-entry TTL and an
// optional LRU-by-insertion-order eviction once maxEntries is exceeded
// (spec §4.4.3 "Eviction").
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string
	maxEntries int
}

// NewMemoryCache creates a memory cache. maxEntries <= 0 means unbounded.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{entries: make(map[string]*cacheEntry), maxEntries: maxEntries}
}

func (c *MemoryCache) Get(fp string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, fp)
		return nil, false
	}
	out := *e.resp
	out.FromCache = true
	return &out, true
}

func (c *MemoryCache) Set(fp string, resp *Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fp]; !exists {
		c.order = append(c.order, fp)
	}
	c.entries[fp] = &cacheEntry{resp: resp, expiresAt: time.Now().Add(ttl)}

	if c.maxEntries > 0 {
		for len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
}

// Reset discards every cached entry.
func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}

// diskRecord is the on-disk encoding of one cache entry.
type diskRecord struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Proto      string              `json:"proto"`
	ExpiresAt  int64               `json:"expires_at"`
}

// TwoLevelCache consults an in-memory cache first, falling back to a
// persistent directory on miss and promoting hits back into memory (spec
// §4.4.3 "Two-level cache").
type TwoLevelCache struct {
	mem *MemoryCache
	dir string
}

// NewTwoLevelCache creates a cache backed by dir, creating it if needed.
func NewTwoLevelCache(dir string, maxMemEntries int) (*TwoLevelCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &TwoLevelCache{mem: NewMemoryCache(maxMemEntries), dir: dir}, nil
}

func (c *TwoLevelCache) path(fp string) string { return filepath.Join(c.dir, fp+".json") }

func (c *TwoLevelCache) Get(fp string) (*Response, bool) {
	if resp, ok := c.mem.Get(fp); ok {
		return resp, true
	}
	data, err := os.ReadFile(c.path(fp))
	if err != nil {
		return nil, false
	}
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if time.Now().After(time.Unix(rec.ExpiresAt, 0)) {
		os.Remove(c.path(fp))
		return nil, false
	}
	resp := &Response{StatusCode: rec.StatusCode, Headers: rec.Headers, Body: rec.Body, Proto: rec.Proto, FromCache: true}
	remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
	c.mem.Set(fp, resp, remaining)
	return resp, true
}

func (c *TwoLevelCache) Set(fp string, resp *Response, ttl time.Duration) {
	c.mem.Set(fp, resp, ttl)

	rec := diskRecord{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body, Proto: resp.Proto, ExpiresAt: time.Now().Add(ttl).Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	tmp := c.path(fp) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, c.path(fp))
}

// Reset discards every cached entry, memory and disk.
func (c *TwoLevelCache) Reset() {
	c.mem.Reset()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(c.dir, e.Name()))
	}
}
