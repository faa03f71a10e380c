// Package stream opens a recommendation stream and forwards its decoded
// frames on a channel.
package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cardrec/internal/auth"
	"cardrec/internal/metrics"
	"cardrec/internal/shared"
	"cardrec/internal/sse"

	"go.uber.org/zap"
)

// Session opens streams through an auth.Transport with a client whose
// timeout is long enough for a full generation.
type Session struct {
	transport *auth.Transport
	client    *http.Client
	log       *zap.SugaredLogger
}

func NewSession(transport *auth.Transport, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		transport: transport,
		client:    auth.NewHTTPClient(shared.DefaultStreamTimeout),
		log:       log,
	}
}

// Open performs the handshake, including the expired-token retry, and
// returns the event channel. Handshake failures are returned directly.
// Failures after the handshake arrive as a final error event. The channel is
// closed after a terminal event or once ctx is done; no event is sent after
// ctx is done.
func (s *Session) Open(ctx context.Context, req *auth.Request) (<-chan sse.Event, error) {
	start := time.Now()
	r := *req
	if r.ID == "" {
		r.ID = shared.NewRequestID()
	}
	headers := map[string]string{"Accept": "text/event-stream"}
	for key, value := range req.Headers {
		headers[key] = value
	}
	r.Headers = headers

	endpoint := shared.CategoryLabel(r.Path)
	log := s.log.With("request_id", r.ID, "endpoint", endpoint)

	res, err := s.transport.Do(ctx, s.client, &r)
	if err != nil {
		code := shared.MetricsCode(err)
		if code == "unknown" {
			code = shared.ErrHandshakeMetric.Code
		}
		metrics.ErrorCount.WithLabelValues(endpoint, code).Inc()
		log.Warnw("Stream handshake failed", "error", err)
		return nil, err
	}

	log.Debugw("Stream opened", "status_code", res.StatusCode)
	metrics.InflightStreams.Inc()
	out := make(chan sse.Event)
	go s.pump(ctx, res, out, endpoint, start, log)
	return out, nil
}

func (s *Session) pump(ctx context.Context, res *http.Response, out chan<- sse.Event, endpoint string, start time.Time, log *zap.SugaredLogger) {
	outcome := "completed"
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warnw("Failed to close response body", "error", err)
		}
		close(out)
		metrics.InflightStreams.Dec()
		metrics.StreamDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
		log.Infow("Stream closed", "outcome", outcome, "duration", time.Since(start))
	}()

	send := func(ev sse.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	firstChunk := true
	for ev, err := range sse.Events(res.Body) {
		if ctx.Err() != nil {
			outcome = "canceled"
			return
		}
		if err != nil {
			outcome = "read_error"
			metrics.ErrorCount.WithLabelValues(endpoint, shared.ErrReadMetric.Code).Inc()
			log.Warnw("Stream read failed", "error", errors.Join(shared.ErrReadMetric, err))
			send(sse.ErrorEvent(err.Error()))
			return
		}

		if ev.Kind == sse.KindChunk {
			if firstChunk {
				metrics.TimeToFirstChunk.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
				firstChunk = false
			}
			metrics.ChunksReceived.WithLabelValues(endpoint).Inc()
		}
		if !send(ev) {
			outcome = "canceled"
			return
		}
		if ev.Kind == sse.KindError {
			outcome = "upstream_error"
			metrics.ErrorCount.WithLabelValues(endpoint, shared.ErrUpstreamMetric.Code).Inc()
			log.Warnw("Upstream reported an error", "message", ev.Text)
		}
		if ev.Terminal() {
			return
		}
	}

	if ctx.Err() != nil {
		outcome = "canceled"
		return
	}
	outcome = "missing_done"
	metrics.ErrorCount.WithLabelValues(endpoint, shared.ErrMissingDoneMetric.Code).Inc()
	log.Warnw("Stream ended without a terminal frame")
	send(sse.ErrorEvent(shared.ErrStreamClosed.Error()))
}
