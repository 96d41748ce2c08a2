package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// WSHandler streams the live countdown of a session over a websocket:
// state and remaining time on a fixed tick until the session is scored or
// the window closes. It replaces client-side polling of the status endpoint.
type WSHandler struct {
	service  *app.QuizService
	log      *logrus.Logger
	upgrader websocket.Upgrader
	tick     time.Duration
}

func NewWSHandler(service *app.QuizService, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tick: time.Second,
	}
}

type statusMessage struct {
	Type    string                `json:"type"`
	Payload *domain.SessionStatus `json:"payload"`
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and pushes session status updates until the
// session reaches a terminal state or the client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("sessionId"), 10, 64)
	addr := r.URL.Query().Get("address")
	if err != nil || addr == "" {
		http.Error(w, "missing sessionId or address", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	status, err := h.service.Status(r.Context(), addr, sessionID)
	if err != nil {
		_ = conn.WriteJSON(wsError{Type: "error", Message: err.Error()})
		return
	}
	if err := conn.WriteJSON(statusMessage{Type: "status", Payload: status}); err != nil {
		return
	}

	// Drain the read side so client close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			status, err := h.service.Status(r.Context(), addr, sessionID)
			if err != nil {
				_ = conn.WriteJSON(wsError{Type: "error", Message: err.Error()})
				return
			}
			if err := conn.WriteJSON(statusMessage{Type: "status", Payload: status}); err != nil {
				return
			}
			if status.State == domain.SessionScored || status.RemainingMs == 0 {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
		}
	}
}
