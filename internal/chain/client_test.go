package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chainquiz-service/internal/domain"
)

func newRelay(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "0xHouse", 5*time.Second)
}

func TestStateReads(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/state" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entryFeeMicro":   1_000_000,
			"totalFundsMicro": 50_000_000,
			"owner":           "0xHOUSE",
			"blockNumber":     777,
		})
	})
	ctx := context.Background()

	owner, err := client.OwnerAddress(ctx)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "0xhouse" {
		t.Fatalf("owner = %q, want lowercase 0xhouse", owner)
	}
	fee, err := client.EntryFee(ctx)
	if err != nil || fee != 1_000_000 {
		t.Fatalf("fee = %d, %v", fee, err)
	}
	funds, err := client.PoolFunds(ctx)
	if err != nil || funds != 50_000_000 {
		t.Fatalf("funds = %d, %v", funds, err)
	}
	block, err := client.BlockNumber(ctx)
	if err != nil || block != 777 {
		t.Fatalf("block = %d, %v", block, err)
	}
}

func TestSubmitSuccess(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["address"] != "0xwinner" {
			t.Errorf("address = %v, want lowercased 0xwinner", body["address"])
		}
		json.NewEncoder(w).Encode(map[string]string{"txHash": "0xtx"})
	})
	tx, err := client.Submit(context.Background(), "0xWinner", true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx != "0xtx" {
		t.Fatalf("tx = %q", tx)
	}
}

func TestSubmitErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"insufficient_funds", domain.ErrInsufficientPoolFunds},
		{"reverted", domain.ErrTransactionReverted},
	}
	for _, tc := range cases {
		client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"code": tc.code, "error": "boom"})
		})
		_, err := client.Submit(context.Background(), "0xab", true)
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: err = %v, want %v", tc.code, err, tc.want)
		}
	}
}

func TestSubmitTimeoutWithHashIsSuccess(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(w).Encode(map[string]string{
			"code":   "timeout",
			"error":  "confirmation wait exceeded",
			"txHash": "0xmaybe",
		})
	})
	tx, err := client.Submit(context.Background(), "0xab", true)
	if err != nil {
		t.Fatalf("timeout with hash must not error, got %v", err)
	}
	if tx != "0xmaybe" {
		t.Fatalf("tx = %q, want 0xmaybe", tx)
	}
}

func TestSubmitTimeoutWithoutHashFails(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(w).Encode(map[string]string{"code": "timeout", "error": "lost"})
	})
	if _, err := client.Submit(context.Background(), "0xab", true); err == nil {
		t.Fatal("expected error for timeout without tx hash")
	}
}

func TestTournamentInfoNotFound(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := client.Info(context.Background(), 42)
	if !errors.Is(err, domain.ErrTournamentNotFound) {
		t.Fatalf("err = %v, want ErrTournamentNotFound", err)
	}
}

func TestTournamentInfoMapsTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"start":               start.Unix(),
			"end":                 start.Add(24 * time.Hour).Unix(),
			"questionsPerSession": 5,
			"timePerQuestion":     20,
		})
	})
	info, err := client.Info(context.Background(), 1)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Start.Equal(start) {
		t.Fatalf("start = %v, want %v", info.Start, start)
	}
	if info.QuestionsPerSession != 5 || info.TimePerQuestion != 20 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestCreditsLowercasesAddress(t *testing.T) {
	client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/credits/0xab" {
			t.Errorf("path = %s, want /credits/0xab", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"credits": 3})
	})
	credits, err := client.Credits(context.Background(), "0xAB")
	if err != nil || credits != 3 {
		t.Fatalf("credits = %d, %v", credits, err)
	}
}
