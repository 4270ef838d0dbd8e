package resolver

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// DefaultCDNHosts is the built-in candidate list for CDN probing. Config can
// prepend extra hosts; discovered hosts are persisted and tried first.
var DefaultCDNHosts = []string{
	"media-files.bunkr.ru",
	"media-files2.bunkr.ru",
	"i-burger.bunkr.ru",
	"c.bunkr-cache.ru",
}

// HostCache is the adaptive CDN host memory: a preferred host for the
// current run plus an append-only persisted host list. It is an optimization
// only; the candidate list works without it, just slower.
type HostCache struct {
	mu        sync.Mutex
	preferred string
	learned   []string
	extra     []string
	builtin   []string
	filePath  string
	known     map[string]bool
}

// NewHostCache builds a cache over the built-in candidates plus extras, and
// loads previously discovered hosts from filePath (may be "" to disable
// persistence). Lines starting with # and blank lines are ignored.
func NewHostCache(extra []string, filePath string) *HostCache {
	hc := &HostCache{
		extra:    extra,
		builtin:  DefaultCDNHosts,
		filePath: filePath,
		known:    make(map[string]bool),
	}
	hc.loadFile()
	return hc
}

func (hc *HostCache) loadFile() {
	if hc.filePath == "" {
		return
	}
	f, err := os.Open(hc.filePath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host == "" || strings.HasPrefix(host, "#") {
			continue
		}
		if !hc.known[host] {
			hc.known[host] = true
			hc.learned = append(hc.learned, host)
		}
	}
}

// Candidates returns probe candidates in priority order: the preferred host,
// then persisted discoveries, then configured extras, then built-ins.
func (hc *HostCache) Candidates() []string {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	add := func(host string) {
		if host != "" && !seen[host] {
			seen[host] = true
			out = append(out, host)
		}
	}

	add(hc.preferred)
	for _, h := range hc.learned {
		add(h)
	}
	for _, h := range hc.extra {
		add(h)
	}
	for _, h := range hc.builtin {
		add(h)
	}
	return out
}

// Remember records a working host: preferred for the rest of the run, and
// appended to the persisted list if not already known.
func (hc *HostCache) Remember(host string) {
	if host == "" {
		return
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.preferred = host
	if hc.known[host] {
		return
	}
	hc.known[host] = true
	hc.learned = append(hc.learned, host)

	if hc.filePath == "" {
		return
	}
	f, err := os.OpenFile(hc.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(host + "\n")
}
