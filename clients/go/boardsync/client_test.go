package boardsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/protocol"
	"github.com/eldtechnologies/boardsync/internal/realtime"
)

func TestRESTCalls(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/boards", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Board{ID: "b1", Name: req["name"]})
		case http.MethodGet:
			gotQuery = r.URL.RawQuery
			json.NewEncoder(w).Encode(BoardList{Boards: []BoardInfo{{ID: "b1", Name: "Retro"}}, Total: 1})
		}
	})
	mux.HandleFunc("/api/boards/b1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(Board{ID: "b1", Name: "Retro", Snapshot: json.RawMessage(`{"objects":[]}`)})
	})
	mux.HandleFunc("/api/boards/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"board not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	b, err := c.CreateBoard(ctx, "Retro")
	if err != nil || b.ID != "b1" || b.Name != "Retro" {
		t.Fatalf("CreateBoard = %+v, %v", b, err)
	}

	list, err := c.ListBoards(ctx, "ret", 5, 10)
	if err != nil || list.Total != 1 {
		t.Fatalf("ListBoards = %+v, %v", list, err)
	}
	if gotQuery != "limit=5&offset=10&q=ret" {
		t.Errorf("unexpected query %q", gotQuery)
	}

	b, err = c.GetBoard(ctx, "b1")
	if err != nil || string(b.Snapshot) != `{"objects":[]}` {
		t.Fatalf("GetBoard = %+v, %v", b, err)
	}

	if err := c.DeleteBoard(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBoard: %v", err)
	}

	_, err = c.GetBoard(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "board not found" {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":         "ws://localhost:8080/ws",
		"https://boards.example.com/":   "wss://boards.example.com/ws",
		"https://example.com/boardsync": "wss://example.com/boardsync/ws",
	}
	for in, want := range tests {
		got, err := NewClient(in).websocketURL()
		if err != nil || got != want {
			t.Errorf("websocketURL(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
}

func next(t *testing.T, s *Session, typ string) protocol.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-s.Events():
			if !ok {
				t.Fatalf("stream ended waiting for %s: %v", typ, s.Err())
			}
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	hub := realtime.NewHub(realtime.Options{}, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	a, err := c.Join(ctx, "room-1", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Joined.ConnectionID == "" || string(a.Joined.Snapshot) != `{"objects":[]}` {
		t.Fatalf("unexpected join ack %+v", a.Joined)
	}

	b, err := c.Join(ctx, "room-1", "Ben")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	var p protocol.Presence
	json.Unmarshal(next(t, a, protocol.TypeUserJoined).Data, &p)
	if p.UserName != "Ben" || p.Count != 2 {
		t.Fatalf("unexpected presence %+v", p)
	}

	if err := b.SendState(json.RawMessage(`{"objects":[{"type":"rect"}]}`), ""); err != nil {
		t.Fatal(err)
	}
	var st protocol.CanvasStateFromServer
	json.Unmarshal(next(t, a, protocol.TypeCanvasStateFromServer).Data, &st)
	if string(st.Snapshot) != `{"objects":[{"type":"rect"}]}` {
		t.Fatalf("unexpected snapshot %s", st.Snapshot)
	}

	if err := a.Undo(); err != nil {
		t.Fatal(err)
	}
	json.Unmarshal(next(t, b, protocol.TypeCanvasStateFromServer).Data, &st)
	if string(st.Snapshot) != `{"objects":[]}` {
		t.Fatalf("expected undo to restore the empty board, got %s", st.Snapshot)
	}

	if err := a.Ping(); err != nil {
		t.Fatal(err)
	}
	next(t, a, protocol.TypePong)
}

func TestJoinRejected(t *testing.T) {
	hub := realtime.NewHub(realtime.Options{}, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	// The gateway path does not matter to a bare handler.
	c := NewClient(srv.URL)
	if _, err := c.Join(ctx, "", "Ana"); err == nil {
		t.Fatal("expected an empty session id to be rejected")
	}
}
