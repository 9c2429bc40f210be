package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	board "emojiboard/native/leaderboard"
)

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "  ", "ftp://example.com", "://bad"} {
		if _, err := New(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestUpdateLeaderboardSendsTokenAndCeiling(t *testing.T) {
	var gotAuth string
	var gotBody map[string]uint64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/leaderboard/update" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UpdateResult{Period: 20745, RewardAmount: "10000000000000000000", Entries: 2, Cost: 160})
	}))
	defer server.Close()

	client, err := New(server.URL, WithAuthToken(" token-1 "))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := client.UpdateLeaderboard(context.Background(), 500)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["ceiling"] != 500 {
		t.Fatalf("unexpected ceiling %v", gotBody)
	}
	if result.Period != 20745 || result.Entries != 2 || result.Cost != 160 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAPIErrorsUnwrapToGateSentinels(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusConflict, "not_eligible", board.ErrNotEligible},
		{http.StatusForbidden, "not_authorized", board.ErrNotAuthorized},
		{http.StatusConflict, "superseded", board.ErrUpdateSuperseded},
		{http.StatusUnprocessableEntity, "resource_exceeded", board.ErrResourceExceeded},
		{http.StatusUnprocessableEntity, "invalid_data", board.ErrInvalidData},
		{http.StatusServiceUnavailable, "insufficient_supply", board.ErrInsufficientSupply},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "boom", "code": tc.code, "retryable": tc.code == "resource_exceeded"})
			}))
			defer server.Close()

			client, err := New(server.URL)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			_, err = client.UpdateLeaderboard(context.Background(), 0)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tc.status {
				t.Fatalf("expected APIError with status %d, got %v", tc.status, err)
			}
			if tc.code == "resource_exceeded" && (!apiErr.Retryable || !errors.Is(err, board.ErrAggregationFailed)) {
				t.Fatalf("resource exceeded should be a retryable aggregation failure: %+v", apiErr)
			}
		})
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := New(server.URL)
	_, err := client.Gate(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "too many requests" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestEventsAndLeaderboardQueries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/events":
			if r.URL.Query().Get("periods") != "7" || r.URL.Query().Get("limit") != "3" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"events": []Event{{Sequence: 2, Period: 20745}, {Sequence: 1, Period: 20744}}})
		case "/v1/leaderboard":
			if r.URL.Query().Get("limit") != "" {
				t.Fatalf("limit should be omitted when zero")
			}
			_ = json.NewEncoder(w).Encode(Leaderboard{Period: 20745, Entries: []Entry{{Rank: 1, Address: "0x01", Score: 105}}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, _ := New(server.URL)
	evts, err := client.Events(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].Sequence != 2 {
		t.Fatalf("unexpected events %+v", evts)
	}
	ranked, err := client.Leaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(ranked.Entries) != 1 || ranked.Entries[0].Score != 105 {
		t.Fatalf("unexpected board %+v", ranked)
	}
}

func TestExportCopiesBody(t *testing.T) {
	payload := []byte("PAR1-data-PAR1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client, _ := New(server.URL)
	var buf bytes.Buffer
	n, err := client.Export(context.Background(), &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != int64(len(payload)) || !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("unexpected export %q", buf.Bytes())
	}
}

func TestWatchReceivesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events/stream" || r.URL.Query().Get("cursor") != "4" {
			t.Errorf("unexpected stream request %s", r.URL.String())
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for seq := uint64(5); seq <= 6; seq++ {
			data, _ := json.Marshal(Event{Sequence: seq, Period: 20745})
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, _ := New(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []uint64
	err := client.Watch(ctx, "4", func(evt Event) error {
		got = append(got, evt.Sequence)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Fatalf("unexpected sequences %v", got)
	}
}
