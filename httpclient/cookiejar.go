package httpclient

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brindlecore/reactor/asyncerr"
)

// Cookie is one stored cookie (spec §4.4.1).
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero value means a session cookie
	Secure   bool
	HTTPOnly bool
	SameSite string
	Created  time.Time
}

func (c *Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// Jar stores cookies keyed by (name, domain, path), matching them against
// outgoing requests per RFC 6265-style domain/path/secure rules (spec
// §4.4.1). An optional backing file makes it persistent across restarts.
type Jar struct {
	mu      sync.Mutex
	cookies map[string]*Cookie // key: name|domain|path
	path    string
}

// NewJar creates an in-memory cookie jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[string]*Cookie)}
}

// NewPersistentJar creates a jar that loads from path if it exists; Save
// persists it back atomically (spec §4.4.1 "Persistent variant").
func NewPersistentJar(path string) (*Jar, error) {
	j := &Jar{cookies: make(map[string]*Cookie), path: path}
	if err := j.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return j, nil
}

func cookieKey(name, domain, path string) string {
	return name + "|" + domain + "|" + path
}

// Set inserts or overwrites a cookie, last-write-wins on (name, domain,
// path) (spec §4.4.1 "last-wins on duplicate").
func (j *Jar) Set(c *Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[cookieKey(c.Name, c.Domain, c.Path)] = c
}

func domainMatch(cookieDomain, host string) bool {
	if cookieDomain == "" {
		return true
	}
	cd := strings.TrimPrefix(cookieDomain, ".")
	if host == cd {
		return true
	}
	return strings.HasSuffix(host, "."+cd)
}

func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if reqPath == cookiePath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
	}
	return false
}

// Matching returns cookies applicable to the given request URL, sorted by
// path length descending then creation time ascending (spec §4.4.1
// "Header assembly").
func (j *Jar) Matching(rawURL string) []*Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := u.Hostname()
	path := u.Path
	if path == "" {
		path = "/"
	}
	secure := u.Scheme == "https"
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*Cookie
	for _, c := range j.cookies {
		if c.expired(now) {
			continue
		}
		if !domainMatch(c.Domain, host) {
			continue
		}
		if !pathMatch(c.Path, path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool {
		if len(out[i].Path) != len(out[k].Path) {
			return len(out[i].Path) > len(out[k].Path)
		}
		return out[i].Created.Before(out[k].Created)
	})
	return out
}

// HasCookie reports whether the jar currently holds a non-expired cookie
// named name, for any domain/path (spec §4.4.5 assertCookieExists).
func (j *Jar) HasCookie(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, c := range j.cookies {
		if c.Name == name && !c.expired(now) {
			return true
		}
	}
	return false
}

// CookieValue returns the value of the first non-expired cookie named
// name (spec §4.4.5 assertCookieValue).
func (j *Jar) CookieValue(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, c := range j.cookies {
		if c.Name == name && !c.expired(now) {
			return c.Value, true
		}
	}
	return "", false
}

// Reset discards every stored cookie, leaving the backing file (if any)
// untouched until the next Save.
func (j *Jar) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]*Cookie)
}

func attachCookies(req *Request, jar *Jar) {
	matched := jar.Matching(req.URL)
	if len(matched) == 0 {
		return
	}
	parts := make([]string, 0, len(matched))
	for _, c := range matched {
		parts = append(parts, c.Name+"="+c.Value)
	}
	req.Header["Cookie"] = []string{strings.Join(parts, "; ")}
}

// storeFromResponse parses Set-Cookie headers from resp and inserts them,
// inferring domain/path defaults from requestURL.
func (j *Jar) storeFromResponse(requestURL string, resp *Response) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return
	}
	for _, raw := range resp.Headers["Set-Cookie"] {
		c := parseSetCookie(raw, u.Hostname(), u.Path)
		if c != nil {
			j.Set(c)
		}
	}
}

func parseSetCookie(raw, defaultDomain, defaultPath string) *Cookie {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return nil
	}
	nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nv) != 2 {
		return nil
	}
	c := &Cookie{Name: strings.TrimSpace(nv[0]), Value: strings.TrimSpace(nv[1]), Domain: defaultDomain, Path: defaultPath, Created: time.Now()}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(kv[0])
		val := ""
		if len(kv) == 2 {
			val = kv[1]
		}
		switch key {
		case "domain":
			c.Domain = strings.TrimPrefix(val, ".")
		case "path":
			c.Path = val
		case "expires":
			if t, err := time.Parse(time.RFC1123, val); err == nil {
				c.Expires = t
			}
		case "max-age":
			if secs, err := strconv.Atoi(val); err == nil {
				if secs <= 0 {
					c.Expires = time.Unix(0, 0)
				} else {
					c.Expires = time.Now().Add(time.Duration(secs) * time.Second)
				}
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			c.SameSite = val
		}
	}
	return c
}

func (j *Jar) load() error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		var expires time.Time
		if sec, err := strconv.ParseInt(fields[4], 10, 64); err == nil && sec != 0 {
			expires = time.Unix(sec, 0)
		}
		c := &Cookie{
			Name:     fields[0],
			Value:    fields[1],
			Domain:   fields[2],
			Path:     fields[3],
			Expires:  expires,
			Secure:   fields[5] == "1",
			HTTPOnly: fields[6] == "1",
			Created:  time.Now(),
		}
		j.cookies[cookieKey(c.Name, c.Domain, c.Path)] = c
	}
	return scanner.Err()
}

// Save writes the jar to its backing file atomically (write tmp, rename)
// (spec §4.4.1 "on destructor or save() write atomically").
func (j *Jar) Save() error {
	if j.path == "" {
		return asyncerr.New(asyncerr.KindUsage, "jar has no backing file")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return asyncerr.Wrap(asyncerr.KindFileIO, "create cookie jar tmp file", err)
	}
	w := bufio.NewWriter(f)
	for _, c := range j.cookies {
		var expSec int64
		if !c.Expires.IsZero() {
			expSec = c.Expires.Unix()
		}
		secure, httpOnly := 0, 0
		if c.Secure {
			secure = 1
		}
		if c.HTTPOnly {
			httpOnly = 1
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n", c.Name, c.Value, c.Domain, c.Path, expSec, secure, httpOnly)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return asyncerr.Wrap(asyncerr.KindFileIO, "flush cookie jar tmp file", err)
	}
	if err := f.Close(); err != nil {
		return asyncerr.Wrap(asyncerr.KindFileIO, "close cookie jar tmp file", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return asyncerr.Wrap(asyncerr.KindFileIO, "rename cookie jar tmp file", err)
	}
	return nil
}
