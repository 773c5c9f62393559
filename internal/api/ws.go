package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bilal-raza12/ShopEase/internal/chat"
)

const wsWriteWait = 10 * time.Second

// wsPongWait is how long a connection may stay silent while the handler
// waits for the next frame. Pings go out at nine tenths of it.
var wsPongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is written back for every chat.Request frame received.
type wsFrame struct {
	*chat.Response
	Error *apiError `json:"error,omitempty"`
}

// handleChatWS runs chat turns over a websocket. Each text frame is a
// chat.Request; the user_id query parameter fills in a missing user and a
// thread started on the connection is reused by later frames.
func handleChatWS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		pongWait := wsPongWait
		conn.SetReadLimit(maxRequestBodySize)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(pongWait * 9 / 10)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		defaultUser := r.URL.Query().Get("user_id")
		var threadID string
		for {
			// A turn can outlast pongWait, so the deadline starts when
			// waiting for the next frame begins.
			conn.SetReadDeadline(time.Now().Add(pongWait))
			var req chat.Request
			if err := conn.ReadJSON(&req); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					slog.Debug("websocket read failed", "error", err)
				}
				return
			}
			if req.UserID == "" {
				req.UserID = defaultUser
			}
			if req.ThreadID == "" {
				req.ThreadID = threadID
			}

			var frame wsFrame
			resp, err := deps.Chat.Send(r.Context(), req)
			if err != nil {
				_, errType := statusOf(err)
				frame.Error = &apiError{Message: err.Error(), Type: errType}
			} else {
				threadID = resp.ThreadID
				frame.Response = &resp
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
