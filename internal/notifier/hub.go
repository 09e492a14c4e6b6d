package notifier

import (
	"context"
	"sync"

	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/logctx"
)

const defaultSubscriberBuffer = 64

// Hub fans lifecycle events out to subscribers. A subscriber that falls behind misses events
// rather than stalling the others.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int

	notifier Notifier
	wg       sync.WaitGroup
}

type Subscription struct {
	C    <-chan lifecycle.Event
	c    chan lifecycle.Event
	once sync.Once
}

// NewHub creates a hub. notif may be nil; when set it is told about completed and failed downloads.
func NewHub(buffer int, notif Notifier) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	return &Hub{
		subs:     make(map[*Subscription]struct{}),
		buffer:   buffer,
		notifier: notif,
	}
}

func (h *Hub) Subscribe() *Subscription {
	c := make(chan lifecycle.Event, h.buffer)
	s := &Subscription{C: c, c: c}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()

	s.once.Do(func() { close(s.c) })
}

func (h *Hub) Publish(ev lifecycle.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.c <- ev:
		default:
		}
	}
}

// Run forwards events to subscribers until ctx is done or events is closed.
func (h *Hub) Run(ctx context.Context, events <-chan lifecycle.Event) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("publishing download events")

	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down event hub")
			h.wg.Wait()

			return nil
		case ev, ok := <-events:
			if !ok {
				h.wg.Wait()

				return nil
			}

			h.Publish(ev)
			h.notify(ctx, ev)
		}
	}
}

func (h *Hub) notify(ctx context.Context, ev lifecycle.Event) {
	if h.notifier == nil {
		return
	}

	msg, ok := Message(ev)
	if !ok {
		return
	}

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		ctx := context.WithoutCancel(ctx)
		if err := h.notifier.Notify(ctx, msg); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "download_id", ev.DownloadID(), "err", err)
		}
	}()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.c) })
	}
}
