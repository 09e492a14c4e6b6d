// Package grant keeps the one-shot permissions that authorize a transfer observed on a surface.
package grant

import (
	"strings"
	"sync"
	"time"

	"github.com/italolelis/surface_downloader/internal/transfer"
)

// Rule names the grant kind that authorized a transfer.
type Rule int

const (
	RuleNone Rule = iota
	RuleSurface
	RuleGlobal
	RuleURL
	RuleHostname
)

func (r Rule) String() string {
	switch r {
	case RuleSurface:
		return "surface"
	case RuleGlobal:
		return "global"
	case RuleURL:
		return "url"
	case RuleHostname:
		return "hostname"
	default:
		return "none"
	}
}

// Ledger is safe for concurrent use. Grants never expire unless a TTL is configured.
type Ledger struct {
	mu sync.Mutex

	surfaces  map[string]time.Time
	global    []time.Time
	urls      map[string]time.Time
	hostnames map[string]time.Time

	ttl time.Duration
	now func() time.Time
}

type Option func(*Ledger)

// WithTTL makes grants older than ttl unusable. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		surfaces:  make(map[string]time.Time),
		urls:      make(map[string]time.Time),
		hostnames: make(map[string]time.Time),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// GrantSurface authorizes the next transfer observed on the given surface.
func (l *Ledger) GrantSurface(surfaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.surfaces[surfaceID] = l.now()
}

// GrantGlobalOnce authorizes one more transfer from any surface.
func (l *Ledger) GrantGlobalOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = append(l.global, l.now())
}

// GrantURL authorizes transfers whose chain contains rawURL.
func (l *Ledger) GrantURL(rawURL string) {
	if rawURL == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.urls[rawURL] = l.now()
}

// GrantHostname authorizes transfers whose chain touches host.
func (l *Ledger) GrantHostname(host string) {
	if host == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.hostnames[strings.ToLower(host)] = l.now()
}

// TryConsume checks the grants in order surface, global, URL, hostname and consumes the first
// that matches. Only one rule is consumed per call.
func (l *Ledger) TryConsume(intent transfer.Intent) (Rule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if issued, ok := l.surfaces[intent.SurfaceID]; ok {
		delete(l.surfaces, intent.SurfaceID)

		if !l.expired(issued, now) {
			return RuleSurface, true
		}
	}

	for len(l.global) > 0 {
		issued := l.global[0]
		l.global = l.global[1:]

		if !l.expired(issued, now) {
			return RuleGlobal, true
		}
	}

	for _, u := range intent.URLs() {
		if issued, ok := l.urls[u]; ok {
			delete(l.urls, u)

			if !l.expired(issued, now) {
				return RuleURL, true
			}
		}
	}

	for _, h := range intent.Hostnames() {
		if issued, ok := l.hostnames[h]; ok {
			delete(l.hostnames, h)

			if !l.expired(issued, now) {
				return RuleHostname, true
			}
		}
	}

	return RuleNone, false
}

// Purge drops every URL and hostname grant that belongs to the intent's chain.
func (l *Ledger) Purge(intent transfer.Intent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, u := range intent.URLs() {
		delete(l.urls, u)
	}

	for _, h := range intent.Hostnames() {
		delete(l.hostnames, h)
	}
}

// Revoke withdraws the grants issued for one explicit request that never reached a surface: the
// surface, URL and hostname grants plus the newest global grant. Empty keys are skipped.
func (l *Ledger) Revoke(surfaceID, rawURL, host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if surfaceID != "" {
		delete(l.surfaces, surfaceID)
	}

	if rawURL != "" {
		delete(l.urls, rawURL)
	}

	if host != "" {
		delete(l.hostnames, strings.ToLower(host))
	}

	if n := len(l.global); n > 0 {
		l.global = l.global[:n-1]
	}
}

// Sweep drops expired grants and reports how many were removed. Without a TTL it is a no-op.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ttl <= 0 {
		return 0
	}

	removed := 0

	for _, m := range []map[string]time.Time{l.surfaces, l.urls, l.hostnames} {
		for k, issued := range m {
			if l.expired(issued, now) {
				delete(m, k)
				removed++
			}
		}
	}

	kept := l.global[:0]
	for _, issued := range l.global {
		if l.expired(issued, now) {
			removed++

			continue
		}

		kept = append(kept, issued)
	}

	l.global = kept

	return removed
}

// Pending reports the number of outstanding grants per rule.
func (l *Ledger) Pending() map[Rule]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[Rule]int{
		RuleSurface:  len(l.surfaces),
		RuleGlobal:   len(l.global),
		RuleURL:      len(l.urls),
		RuleHostname: len(l.hostnames),
	}
}

func (l *Ledger) expired(issued, now time.Time) bool {
	return l.ttl > 0 && now.Sub(issued) >= l.ttl
}
