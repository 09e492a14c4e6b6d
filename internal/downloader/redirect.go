package downloader

import (
	"context"
	"sync"
)

type redirectChainKey struct{}

// redirectChain collects the URLs a single request visits.
type redirectChain struct {
	mu   sync.Mutex
	urls []string
}

func (c *redirectChain) add(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.urls = append(c.urls, u)
}

func (c *redirectChain) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.urls...)
}

func withRedirectChain(ctx context.Context, c *redirectChain) context.Context {
	return context.WithValue(ctx, redirectChainKey{}, c)
}

func redirectChainFromContext(ctx context.Context) *redirectChain {
	c, _ := ctx.Value(redirectChainKey{}).(*redirectChain)

	return c
}
