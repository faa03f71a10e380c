package shared

import (
	"errors"
	"fmt"
)

// UpstreamError is returned when the backend answered with a non-2xx status
// that is not the expired token case. Message is the `error` field of a JSON
// body when one is present and the raw body text otherwise, and is surfaced
// to the caller verbatim.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (u *UpstreamError) Error() string {
	return u.Message
}

// TransportError wraps connection and timeout failures. Nothing past the 401
// refresh is retried.
type TransportError struct {
	Op  string
	Err error
}

func (t *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", t.Op, t.Err)
}

func (t *TransportError) Unwrap() error {
	return t.Err
}

// StreamError carries the message of an `{"error": ...}` frame, or of a read
// failure after the stream started.
type StreamError struct {
	Message string
}

func (s *StreamError) Error() string {
	return s.Message
}

var (
	// ErrAuthExpired never reaches callers, it only drives the refresh cycle.
	ErrAuthExpired       = errors.New("access token expired")
	ErrAuthRefreshFailed = errors.New("session expired, please log in again")
	ErrNoRefreshToken    = errors.New("no refresh token stored")

	ErrNoRecommendations = errors.New("no recommendations could be extracted")
	ErrStreamClosed      = errors.New("stream ended before completion")
	ErrInvalidCardID     = errors.New("invalid card id")
	ErrMissingTypes      = errors.New("at least one category type is required")

	ErrRefreshMetric     = &MetricsError{Msg: "token refresh failed", Code: "auth_refresh_failed"}
	ErrHandshakeMetric   = &MetricsError{Msg: "stream handshake failed", Code: "stream_handshake_err"}
	ErrReadMetric        = &MetricsError{Msg: "failed to read stream", Code: "stream_read_err"}
	ErrUpstreamMetric    = &MetricsError{Msg: "upstream reported failure", Code: "upstream_err"}
	ErrMissingDoneMetric = &MetricsError{Msg: "missing done frame", Code: "missing_done_frame"}
	ErrNoRankingMetric   = &MetricsError{Msg: "ranking never arrived", Code: "no_ranking"}
	ErrHTTPMetric        = &MetricsError{Msg: "failed to send http request", Code: "http_err"}
)

// MetricsError tags an error chain with a stable code for the error counter.
type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// MetricsCode returns the code of the first MetricsError in err's chain.
func MetricsCode(err error) string {
	var me *MetricsError
	if errors.As(err, &me) {
		return me.Code
	}
	return "unknown"
}

// Message returns the text a caller should show for err. A failed refresh
// always reads as an expired session; otherwise the upstream or stream
// message wins over the sentinel texts and err.Error().
func Message(err error) string {
	if errors.Is(err, ErrAuthRefreshFailed) {
		return ErrAuthRefreshFailed.Error()
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Message
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Message
	}
	for _, sentinel := range []error{ErrNoRecommendations, ErrStreamClosed, ErrInvalidCardID, ErrMissingTypes} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
