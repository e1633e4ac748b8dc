package browser

import (
	"strings"
	"sync"
)

type response struct {
	status  int
	headers map[string]string
}

// responseLog keeps the latest main-document response per URL, bounded so a
// long session does not accumulate every page it ever visited.
type responseLog struct {
	mu      sync.Mutex
	byURL   map[string]response
	order   []string
	last    response
	hasLast bool
	limit   int
}

func newResponseLog() *responseLog {
	return &responseLog{byURL: make(map[string]response), limit: 64}
}

func (l *responseLog) record(url string, status int, headers map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := trimFragment(url)
	if _, ok := l.byURL[key]; !ok {
		l.order = append(l.order, key)
		if len(l.order) > l.limit {
			delete(l.byURL, l.order[0])
			l.order = l.order[1:]
		}
	}
	r := response{status: status, headers: headers}
	l.byURL[key] = r
	l.last, l.hasLast = r, true
}

// lookup returns the response for url, or the latest one when url is empty
// or was never seen (a redirect chain ends on a URL the caller did not ask for).
func (l *responseLog) lookup(url string) (response, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if url != "" {
		if r, ok := l.byURL[trimFragment(url)]; ok {
			return r, true
		}
	}
	return l.last, l.hasLast
}

func trimFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
