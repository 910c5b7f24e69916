// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"time"
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Limiters holds the tiers applied to the API. Requests are keyed by client
// IP.
type Limiters struct {
	Write *Tier
	Read  *Tier
}

// New creates the tiers. A zero rate disables the tier.
func New(writePerMin, readPerMin int) *Limiters {
	l := &Limiters{}
	if writePerMin > 0 {
		l.Write = &Tier{Name: "write", Limiter: NewLimiter(writePerMin, time.Minute, max(writePerMin/6, 1))}
	}
	if readPerMin > 0 {
		l.Read = &Tier{Name: "read", Limiter: NewLimiter(readPerMin, time.Minute, max(readPerMin/6, 1))}
	}
	return l
}

// Match returns the tier for a request, nil when it is not limited.
func (l *Limiters) Match(method, path string) *Tier {
	if l == nil || path == "/api/health" {
		return nil
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return l.Write
	case http.MethodGet:
		return l.Read
	default:
		return nil
	}
}

// Close stops all limiter cleanup goroutines.
func (l *Limiters) Close() {
	if l == nil {
		return
	}
	for _, t := range []*Tier{l.Write, l.Read} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

// Key builds the bucket key of a client for a tier.
func (t *Tier) Key(clientIP string) string {
	return "ip:" + clientIP + ":" + t.Name
}
