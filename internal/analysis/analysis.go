// Package analysis folds the events of one recommendation stream into an
// ordered list of per-card records.
package analysis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"cardrec/internal/extract"
	"cardrec/internal/metrics"
	"cardrec/internal/ranking"
	"cardrec/internal/shared"
	"cardrec/internal/sse"

	"go.uber.org/zap"
)

const analysisKey = "analysis"

type State int

const (
	Idle State = iota
	AwaitingRanking
	StreamingFields
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRanking:
		return "awaiting_ranking"
	case StreamingFields:
		return "streaming_fields"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further event changes an aggregator in s.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Record is one ranked card together with the analysis streamed for it so
// far.
type Record struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"displayName"`
	IssuerName     string   `json:"issuerName"`
	Value          *float64 `json:"value,omitempty"`
	RewardType     string   `json:"rewardType,omitempty"`
	RewardAmount   *float64 `json:"rewardAmount,omitempty"`
	Category       string   `json:"category,omitempty"`
	Benefits       []string `json:"benefits"`
	Explanation    string   `json:"explanation"`
	Limitations    []string `json:"limitations"`
	EstimatedValue string   `json:"estimatedValue"`
	IsStreaming    bool     `json:"isStreaming"`
}

func (r Record) clone() Record {
	c := r
	c.Benefits = slices.Clone(r.Benefits)
	c.Limitations = slices.Clone(r.Limitations)
	if r.Value != nil {
		v := *r.Value
		c.Value = &v
	}
	if r.RewardAmount != nil {
		v := *r.RewardAmount
		c.RewardAmount = &v
	}
	return c
}

// Snapshot is a copy of the aggregator's visible state.
type Snapshot struct {
	State   State    `json:"state"`
	Records []Record `json:"records"`
	Err     error    `json:"-"`
	Message string   `json:"error,omitempty"`
}

// Aggregator is created per session. Apply must be called from a single
// goroutine; Snapshot may be called from any.
type Aggregator struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	buf     strings.Builder
	latch   ranking.Latch
	records []Record
	err     error
	started time.Time
}

func New(log *zap.SugaredLogger) *Aggregator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Aggregator{log: log}
}

// Start moves an idle aggregator to AwaitingRanking.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start()
}

func (a *Aggregator) start() {
	if a.state == Idle {
		a.state = AwaitingRanking
		a.started = time.Now()
	}
}

func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err is the failure or cancellation cause, nil otherwise.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{State: a.state, Err: a.err}
	if a.err != nil {
		s.Message = shared.Message(a.err)
	}
	s.Records = make([]Record, len(a.records))
	for i, r := range a.records {
		s.Records[i] = r.clone()
	}
	return s
}

// Cancel moves a non-terminal aggregator to Cancelled. Records keep their
// last values and later events are ignored.
func (a *Aggregator) Cancel() {
	a.cancel(context.Canceled)
}

func (a *Aggregator) cancel(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Terminal() {
		return
	}
	a.state = Cancelled
	a.err = cause
	a.log.Infow("Analysis cancelled", "records", len(a.records))
}

// Apply folds one event in and reports whether the snapshot changed. An idle
// aggregator is started first; a terminal one ignores the event.
func (a *Aggregator) Apply(ev sse.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Terminal() {
		return false
	}
	a.start()

	switch ev.Kind {
	case sse.KindChunk:
		a.buf.WriteString(ev.Text)
		if a.state == AwaitingRanking {
			return a.tryRanking()
		}
		return a.applyFields()
	case sse.KindDone:
		return a.complete(ev.Text)
	case sse.KindError:
		return a.fail(ev.Text)
	default:
		return false
	}
}

func (a *Aggregator) tryRanking() bool {
	buf := a.buf.String()
	entries, ok := a.latch.Try(buf)
	if !ok {
		return false
	}
	a.records = make([]Record, len(entries))
	for i, e := range entries {
		a.records[i] = Record{
			ID:           e.ID,
			DisplayName:  e.DisplayName,
			IssuerName:   e.IssuerName,
			Value:        e.Value,
			RewardType:   e.RewardType,
			RewardAmount: e.RewardAmount,
			Category:     e.Category,
			IsStreaming:  true,
		}
	}
	a.state = StreamingFields
	metrics.TimeToRanking.WithLabelValues(shared.CategoryLabel(shared.AnalyzeCardsPath)).Observe(time.Since(a.started).Seconds())
	a.log.Infow("Ranking extracted", "cards", len(a.records), "buffer_bytes", len(buf))

	// The chunk that closed the ranking may already carry analysis.
	a.applyFields()
	return true
}

// applyFields re-extracts every record's fields from the analysis array.
// Element i updates record i.
func (a *Aggregator) applyFields() bool {
	region, _, ok := extract.ArraySpan(a.buf.String(), analysisKey)
	if !ok {
		return false
	}
	elems := extract.Objects(region)
	changed := false
	for i := 0; i < len(elems) && i < len(a.records); i++ {
		if a.updateRecord(i, elems[i]) {
			changed = true
		}
	}
	return changed
}

func (a *Aggregator) updateRecord(i int, elem string) bool {
	r := &a.records[i]
	changed := false
	if v, ok := extract.String(elem, "explanation"); ok {
		changed = setString(&r.Explanation, v) || changed
	}
	if v, ok := firstString(elem, "estimated_value", "estimatedValue"); ok {
		changed = setString(&r.EstimatedValue, v) || changed
	}
	if v, ok := extract.StringArray(elem, "benefits"); ok {
		changed = setStrings(&r.Benefits, v) || changed
	}
	if v, ok := extract.StringArray(elem, "limitations"); ok {
		changed = setStrings(&r.Limitations, v) || changed
	}
	if changed {
		a.log.Debugw("Record updated", "index", i, "id", r.ID)
	}
	return changed
}

func firstString(elem string, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := extract.String(elem, name); ok {
			return v, true
		}
	}
	return "", false
}

// setString never clears a field.
func setString(dst *string, v string) bool {
	if v == "" || v == *dst {
		return false
	}
	*dst = v
	return true
}

// setStrings never clears or shortens a field.
func setStrings(dst *[]string, v []string) bool {
	if len(v) == 0 || len(v) < len(*dst) || slices.Equal(v, *dst) {
		return false
	}
	*dst = slices.Clone(v)
	return true
}

func (a *Aggregator) complete(fullText string) bool {
	if fullText != "" {
		a.buf.Reset()
		a.buf.WriteString(fullText)
	}
	if a.state == AwaitingRanking {
		metrics.ErrorCount.WithLabelValues(shared.CategoryLabel(shared.AnalyzeCardsPath), shared.ErrNoRankingMetric.Code).Inc()
		a.state = Failed
		a.err = errors.Join(shared.ErrNoRecommendations, shared.ErrNoRankingMetric)
		a.log.Warnw("Stream completed without a ranking", "buffer_bytes", a.buf.Len())
		return true
	}

	a.applyFields()
	for i := range a.records {
		a.records[i].IsStreaming = false
	}
	a.state = Completed
	a.log.Infow("Analysis completed", "records", len(a.records), "duration", time.Since(a.started))
	return true
}

func (a *Aggregator) fail(message string) bool {
	if a.state == AwaitingRanking {
		a.err = errors.Join(&shared.StreamError{Message: message}, shared.ErrNoRankingMetric)
	} else {
		a.err = errors.Join(&shared.StreamError{Message: message}, shared.ErrUpstreamMetric)
	}
	a.log.Warnw("Analysis failed", "message", message, "records", len(a.records), "from", a.state.String())
	a.state = Failed
	return true
}

// Run starts the aggregator and applies events until a terminal state, the
// channel closes or ctx is done. onUpdate receives a snapshot after every
// change. It returns nil on completion and the failure or ctx error
// otherwise.
func (a *Aggregator) Run(ctx context.Context, events <-chan sse.Event, onUpdate func(Snapshot)) error {
	a.Start()
	for {
		select {
		case <-ctx.Done():
			a.cancel(ctx.Err())
			return ctx.Err()
		case ev, ok := <-events:
			if ctx.Err() != nil {
				a.cancel(ctx.Err())
				return ctx.Err()
			}
			if !ok {
				ev = sse.ErrorEvent(shared.ErrStreamClosed.Error())
			}
			if a.Apply(ev) && onUpdate != nil {
				onUpdate(a.Snapshot())
			}
			if state := a.State(); state.Terminal() {
				return a.Err()
			}
		}
	}
}
