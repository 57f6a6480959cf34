package camera

import (
	"net/url"
	"sync"
	"time"
)

// hourGuard remembers the hour and calendar date of the last uploaded shot.
type hourGuard struct {
	mu   sync.Mutex
	set  bool
	hour int
	date string
}

func (g *hourGuard) taken(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set && g.hour == now.Hour() && g.date == now.Format(time.DateOnly)
}

func (g *hourGuard) mark(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set = true
	g.hour = at.Hour()
	g.date = at.Format(time.DateOnly)
}

// redactAddress strips credentials from a stream URL before it is logged.
func redactAddress(addr string) string {
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr
	}
	return u.Redacted()
}
