package downloader

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// SessionPool hands out one cookie jar per session so surfaces sharing a session share cookies.
type SessionPool struct {
	mu   sync.Mutex
	jars map[string]http.CookieJar
}

func NewSessionPool() *SessionPool {
	return &SessionPool{jars: make(map[string]http.CookieJar)}
}

func (p *SessionPool) Jar(sessionID string) (http.CookieJar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if jar, ok := p.jars[sessionID]; ok {
		return jar, nil
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar for session %s: %w", sessionID, err)
	}

	p.jars[sessionID] = jar

	return jar, nil
}
