package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
	"chainquiz-service/internal/infra/memory"
)

func TestWebSocketStatusFeed(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	quiz := app.NewQuizService(memory.NewStore(), seededBank(), fixedCredits{5}, testSettings(), log)

	started, err := quiz.Start(context.Background(), "0xab", 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ws := NewWSHandler(quiz, log)
	ws.tick = 10 * time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", ws.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] +
		fmt.Sprintf("/ws/session?sessionId=%d&address=0xab", started.SessionID)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg statusMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if msg.Type != "status" {
		t.Fatalf("message type = %q, want status", msg.Type)
	}
	if msg.Payload.SessionID != started.SessionID {
		t.Fatalf("session id = %d, want %d", msg.Payload.SessionID, started.SessionID)
	}
	if msg.Payload.State != domain.SessionActive {
		t.Fatalf("state = %q, want ACTIVE", msg.Payload.State)
	}
	if msg.Payload.RemainingMs <= 0 {
		t.Fatalf("remainingMs = %d, want > 0", msg.Payload.RemainingMs)
	}

	// Ticks keep arriving while the session is live.
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if msg.Type != "status" {
		t.Fatalf("tick type = %q, want status", msg.Type)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	quiz := app.NewQuizService(memory.NewStore(), seededBank(), fixedCredits{5}, testSettings(), log)
	ws := NewWSHandler(quiz, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", ws.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/session?sessionId=42&address=0xab"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg wsError
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error message: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("message type = %q, want error", msg.Type)
	}
}
