package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{"chunk", `data: {"chunk": "{\"ranking\""}`, Chunk(`{"ranking"`), true},
		{"empty chunk", `data: {"chunk": ""}`, Chunk(""), true},
		{"done", `data: {"done": true, "full_response": "{}"}`, Done("{}"), true},
		{"done without full response", `data: {"done": true}`, Done(""), true},
		{"error", `data: {"error": "rate limited"}`, ErrorEvent("rate limited"), true},
		{"keep alive", ``, Event{}, false},
		{"comment", `: ping`, Event{}, false},
		{"event line", `event: message`, Event{}, false},
		{"no space after prefix", `data:{"chunk":"x"}`, Event{}, false},
		{"malformed json", `data: {"chunk": "unterminated`, Event{}, false},
		{"not an object", `data: [1,2]`, Event{}, false},
		{"unknown shape", `data: {"done": false}`, Event{}, false},
		{"wrong chunk type", `data: {"chunk": 12}`, Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEventsPreservesOrderAndSkipsNoise(t *testing.T) {
	body := strings.Join([]string{
		`data: {"chunk": "a"}`,
		``,
		`data: not json`,
		`data: {"chunk": "b"}`,
		`: keep-alive`,
		`data: {"done": true, "full_response": "ab"}`,
		``,
	}, "\n")

	var got []Event
	for ev, err := range Events(strings.NewReader(body)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ev)
	}

	want := []Event{Chunk("a"), Chunk("b"), Done("ab")}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEventsHandlesCRLF(t *testing.T) {
	body := "data: {\"chunk\": \"a\"}\r\n\r\ndata: {\"error\": \"boom\"}\r\n"
	var got []Event
	for ev, err := range Events(strings.NewReader(body)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0] != Chunk("a") || got[1] != ErrorEvent("boom") {
		t.Fatalf("unexpected events: %+v", got)
	}
}

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestEventsSurfacesReadError(t *testing.T) {
	readErr := errors.New("connection reset")
	r := &failingReader{data: "data: {\"chunk\": \"a\"}\n", err: readErr}

	var events []Event
	var gotErr error
	for ev, err := range Events(r) {
		if err != nil {
			gotErr = err
			continue
		}
		events = append(events, ev)
	}
	if len(events) != 1 || events[0] != Chunk("a") {
		t.Fatalf("unexpected events: %+v", events)
	}
	if !errors.Is(gotErr, readErr) {
		t.Fatalf("error = %v, want %v", gotErr, readErr)
	}
}

func TestEventsStopsWhenConsumerStops(t *testing.T) {
	body := "data: {\"chunk\": \"a\"}\ndata: {\"chunk\": \"b\"}\n"
	count := 0
	for range Events(strings.NewReader(body)) {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("consumed %d events, want 1", count)
	}
}

func TestEventsLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	body := `data: {"chunk": "` + long + `"}` + "\n"
	var got []Event
	for ev, err := range Events(io.MultiReader(strings.NewReader(body))) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 1 || len(got[0].Text) != len(long) {
		t.Fatalf("long chunk not decoded")
	}
}

func TestTerminal(t *testing.T) {
	if Chunk("x").Terminal() {
		t.Error("chunk must not be terminal")
	}
	if !Done("").Terminal() || !ErrorEvent("x").Terminal() {
		t.Error("done and error must be terminal")
	}
}
