package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"cardrec/internal/auth"
	"cardrec/internal/backendtest"
	"cardrec/internal/shared"
	"cardrec/internal/sse"
)

func newSession(t *testing.T, baseURL string, pair shared.TokenPair) (*Session, auth.TokenStore) {
	t.Helper()
	store := auth.NewMemoryTokenStore(pair)
	tr, err := auth.NewTransport(auth.Config{BaseURL: baseURL, Store: store})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return NewSession(tr, nil), store
}

func analyzeRequest() *auth.Request {
	return &auth.Request{
		Method: http.MethodGet,
		Path:   shared.AnalyzeCardsPath,
		Query:  url.Values{"types": {"restaurant"}},
	}
}

func collect(t *testing.T, events <-chan sse.Event) []sse.Event {
	t.Helper()
	var out []sse.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestOpenForwardsEventsInOrder(t *testing.T) {
	backend, baseURL := backendtest.Start(t, backendtest.Config{
		Analyze: &backendtest.Script{Frames: []backendtest.Frame{
			{Raw: ": keepalive"},
			backendtest.ChunkFrame("one"),
			{Raw: "data: {not json"},
			backendtest.ChunkFrame("two"),
			backendtest.DoneFrame("onetwo"),
			backendtest.ChunkFrame("ignored"),
		}},
	})
	pair, _ := backend.IssueTokens("user-1")
	session, _ := newSession(t, baseURL, pair)

	events, err := session.Open(context.Background(), analyzeRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := collect(t, events)
	want := []sse.Event{sse.Chunk("one"), sse.Chunk("two"), sse.Done("onetwo")}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOpenRetriesAfterExpiredToken(t *testing.T) {
	backend, baseURL := backendtest.Start(t, backendtest.Config{
		Analyze: backendtest.Chunked(`{"ranking": []}`, 5),
	})
	pair, _ := backend.ExpiredTokens("user-1")
	session, store := newSession(t, baseURL, pair)

	events, err := session.Open(context.Background(), analyzeRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := collect(t, events)
	if len(got) == 0 || got[len(got)-1].Kind != sse.KindDone {
		t.Fatalf("stream did not complete: %v", got)
	}
	for _, ev := range got {
		if ev.Kind == sse.KindError {
			t.Fatalf("unexpected error event: %v", ev)
		}
	}
	if backend.Refreshes() != 1 || backend.Streams() != 1 || backend.Rejected() != 1 {
		t.Fatalf("refreshes=%d streams=%d rejected=%d", backend.Refreshes(), backend.Streams(), backend.Rejected())
	}
	next, _ := store.Tokens(context.Background())
	if next.Access == pair.Access {
		t.Fatal("access token was not replaced")
	}
}

func TestOpenHandshakeError(t *testing.T) {
	backend, baseURL := backendtest.Start(t, backendtest.Config{
		Analyze: &backendtest.Script{Status: http.StatusBadRequest, Body: `{"error": "User has no cards"}`},
	})
	pair, _ := backend.IssueTokens("user-1")
	session, _ := newSession(t, baseURL, pair)

	events, err := session.Open(context.Background(), analyzeRequest())
	if events != nil {
		t.Fatal("expected no channel on handshake failure")
	}
	var upstream *shared.UpstreamError
	if !errors.As(err, &upstream) || upstream.Message != "User has no cards" {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenErrorFrameIsTerminal(t *testing.T) {
	backend, baseURL := backendtest.Start(t, backendtest.Config{
		Analyze: &backendtest.Script{Frames: []backendtest.Frame{
			backendtest.ChunkFrame("{"),
			backendtest.ErrorFrame("rate limited"),
			backendtest.DoneFrame("{}"),
		}},
	})
	pair, _ := backend.IssueTokens("user-1")
	session, _ := newSession(t, baseURL, pair)

	events, err := session.Open(context.Background(), analyzeRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := collect(t, events)
	if len(got) != 2 || got[1] != sse.ErrorEvent("rate limited") {
		t.Fatalf("got %v", got)
	}
}

func TestOpenMissingDoneBecomesError(t *testing.T) {
	backend, baseURL := backendtest.Start(t, backendtest.Config{
		Analyze: &backendtest.Script{Frames: []backendtest.Frame{backendtest.ChunkFrame("partial")}},
	})
	pair, _ := backend.IssueTokens("user-1")
	session, _ := newSession(t, baseURL, pair)

	events, err := session.Open(context.Background(), analyzeRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := collect(t, events)
	if len(got) != 2 || got[1] != sse.ErrorEvent(shared.ErrStreamClosed.Error()) {
		t.Fatalf("got %v", got)
	}
}

func TestOpenStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\": \"first\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	session, _ := newSession(t, srv.URL, shared.TokenPair{Access: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	events, err := session.Open(ctx, analyzeRequest())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ev := <-events; ev != sse.Chunk("first") {
		t.Fatalf("first event = %v", ev)
	}
	cancel()

	for ev := range events {
		t.Fatalf("event delivered after cancel: %v", ev)
	}
}
