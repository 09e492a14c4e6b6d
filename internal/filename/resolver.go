// Package filename picks the on-disk name of an authorized transfer.
package filename

import (
	"fmt"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

// DefaultName is used when no source yields a usable name.
const DefaultName = "download"

const DefaultCacheSize = 1024

// Resolver holds the caller-supplied name guesses and the names advertised by response headers,
// both keyed by URL. Entries are evicted once a transfer for the URL is resolved.
type Resolver struct {
	guesses *lru.Cache[string, string]
	headers *lru.Cache[string, string]
}

func NewResolver(cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	guesses, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create name guess cache: %w", err)
	}

	headers, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create header name cache: %w", err)
	}

	return &Resolver{guesses: guesses, headers: headers}, nil
}

// RecordGuess remembers a caller-supplied name for rawURL. Empty guesses are ignored.
func (r *Resolver) RecordGuess(rawURL, guess string) {
	if strings.TrimSpace(guess) == "" {
		return
	}

	r.guesses.Add(rawURL, guess)
}

// ObserveHeaders records the Content-Disposition name a response for rawURL advertised.
func (r *Resolver) ObserveHeaders(rawURL string, header http.Header) {
	for _, v := range header.Values("Content-Disposition") {
		name, ok := ParseContentDisposition(v)
		if !ok {
			continue
		}

		if name = Sanitize(name); usable(name) {
			r.headers.Add(rawURL, name)

			return
		}
	}
}

// Resolve returns the file name for intent: name guess, then header name, then the transport's
// own name. Both caches lose their entries for the originating and final URL.
func (r *Resolver) Resolve(intent transfer.Intent, transportName string) string {
	origin, final := intent.URL, intent.FinalURL()

	defer r.evict(origin, final)

	ext := MediaExtension(origin)
	if ext == "" {
		ext = MediaExtension(final)
	}

	for _, cache := range []*lru.Cache[string, string]{r.guesses, r.headers} {
		name, ok := lookup(cache, origin, final)
		if !ok {
			continue
		}

		name = Sanitize(name)
		if !usable(name) {
			continue
		}

		if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
			name += ext
		}

		return Sanitize(name)
	}

	if name := Sanitize(transportName); usable(name) {
		return name
	}

	return DefaultName
}

// Pending reports how many guesses and header names are cached.
func (r *Resolver) Pending() (guesses, headers int) {
	return r.guesses.Len(), r.headers.Len()
}

func (r *Resolver) evict(urls ...string) {
	for _, u := range urls {
		r.guesses.Remove(u)
		r.headers.Remove(u)
	}
}

func lookup(cache *lru.Cache[string, string], origin, final string) (string, bool) {
	if name, ok := cache.Peek(origin); ok {
		return name, true
	}

	return cache.Peek(final)
}
