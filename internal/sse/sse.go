// Package sse decodes the `data: ` framed event stream of the recommendation
// endpoints into typed events.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"cardrec/internal/metrics"
	"cardrec/internal/shared"
)

type Kind int

const (
	KindChunk Kind = iota + 1
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded frame. Text holds the chunk text, the full response
// or the error message depending on Kind.
type Event struct {
	Kind Kind
	Text string
}

func Chunk(text string) Event { return Event{Kind: KindChunk, Text: text} }
func Done(fullText string) Event { return Event{Kind: KindDone, Text: fullText} }
func ErrorEvent(message string) Event { return Event{Kind: KindError, Text: message} }

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// ParseLine decodes a single line. Lines without the data prefix, payloads
// that are not JSON objects and objects that are none of the three frame
// shapes are reported as not ok.
func ParseLine(line string) (Event, bool) {
	payload, found := strings.CutPrefix(line, shared.DataPrefix)
	if !found {
		return Event{}, false
	}
	var frame shared.Frame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		metrics.FramesDropped.Inc()
		return Event{}, false
	}
	switch {
	case frame.Error != nil:
		return ErrorEvent(*frame.Error), true
	case frame.Done:
		full := ""
		if frame.FullResponse != nil {
			full = *frame.FullResponse
		}
		return Done(full), true
	case frame.Chunk != nil:
		return Chunk(*frame.Chunk), true
	default:
		return Event{}, false
	}
}

// Events yields one Event per recognized line of r, in line order. A read
// error is yielded once as the final element.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, shared.InitialLineBuffer), shared.MaxLineSize)
		for scanner.Scan() {
			ev, ok := ParseLine(scanner.Text())
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Event{}, err)
		}
	}
}
