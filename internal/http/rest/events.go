package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/italolelis/surface_downloader/internal/logctx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleEvents streams lifecycle notifications over a websocket until either side goes away.
func (h *DownloadsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "err", err)

		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	logger.Debug("event subscriber connected")

	// the client never sends anything we act on; reading only detects the close
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			logger.Debug("event subscriber disconnected")

			return
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))

				return
			}

			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("failed to write event", "download_id", ev.DownloadID(), "err", err)

				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
