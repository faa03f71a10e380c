package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cardrec/internal/metrics"
	"cardrec/internal/shared"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Request describes one backend call. Path is relative to the transport's
// base URL. Body, when set, is sent as JSON.
type Request struct {
	ID       string
	Method   string
	Path     string
	Query    url.Values
	Body     any
	Headers  map[string]string
	SkipAuth bool
}

// RefreshFunc exchanges a refresh token for a new token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (shared.TokenPair, error)

type Config struct {
	BaseURL string
	Store   TokenStore

	// Refresh defaults to NewHTTPRefresher against BaseURL.
	Refresh RefreshFunc

	// OnLogout runs once per failed refresh, after the store was cleared.
	OnLogout func()

	// HTTPClient is used by Send. Defaults to a client with
	// shared.DefaultHTTPTimeout.
	HTTPClient *http.Client

	Log *zap.SugaredLogger
}

// Transport attaches the stored bearer token to requests and turns an
// expired-token 401 into exactly one refresh and one retry. Refreshes from
// concurrent requests are coalesced.
type Transport struct {
	baseURL  string
	client   *http.Client
	store    TokenStore
	refresh  RefreshFunc
	onLogout func()
	log      *zap.SugaredLogger
	flight   singleflight.Group
}

func NewTransport(cfg Config) (*Transport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(shared.DefaultHTTPTimeout)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Refresh == nil {
		cfg.Refresh = NewHTTPRefresher(cfg.HTTPClient, baseURL)
	}
	return &Transport{
		baseURL:  baseURL,
		client:   cfg.HTTPClient,
		store:    cfg.Store,
		refresh:  cfg.Refresh,
		onLogout: cfg.OnLogout,
		log:      cfg.Log,
	}, nil
}

// NewHTTPClient builds a client with short dial and TLS timeouts and the
// given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).DialContext,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
		DisableKeepAlives:   false,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Send issues req with the transport's own client.
func (t *Transport) Send(ctx context.Context, req *Request) (*http.Response, error) {
	return t.Do(ctx, t.client, req)
}

// Do issues req with client. It returns the response only for a 2xx status;
// the caller owns its body. Any other status is returned as an
// *shared.UpstreamError after the expired-token case was handled.
func (t *Transport) Do(ctx context.Context, client *http.Client, req *Request) (*http.Response, error) {
	reqID := req.ID
	if reqID == "" {
		reqID = shared.NewRequestID()
	}
	log := t.log.With("request_id", reqID, "path", req.Path)

	res, access, err := t.attempt(ctx, client, req, reqID)
	if err != nil {
		return nil, err
	}
	if isSuccess(res.StatusCode) {
		return res, nil
	}

	body := drain(res)
	if req.SkipAuth || res.StatusCode != http.StatusUnauthorized || !shared.IsTokenNotValid(body) {
		return nil, upstreamError(res.StatusCode, body)
	}

	log.Infow("Access token expired, refreshing")
	if err := t.refreshTokens(ctx, access); err != nil {
		return nil, err
	}

	res, _, err = t.attempt(ctx, client, req, reqID)
	if err != nil {
		return nil, err
	}
	if isSuccess(res.StatusCode) {
		return res, nil
	}
	log.Warnw("Retried request failed", "status_code", res.StatusCode)
	return nil, upstreamError(res.StatusCode, drain(res))
}

func (t *Transport) attempt(ctx context.Context, client *http.Client, req *Request, reqID string) (*http.Response, string, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("failed encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	r, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed building request: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"X-Request-ID": reqID,
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		r.Header.Set(key, value)
	}

	var access string
	if !req.SkipAuth {
		pair, err := t.store.Tokens(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed reading token store: %w", err)
		}
		access = pair.Access
		if access != "" {
			r.Header.Set("Authorization", "Bearer "+access)
		}
	}

	res, err := client.Do(r)
	if err != nil {
		metrics.ErrorCount.WithLabelValues(shared.CategoryLabel(req.Path), shared.ErrHTTPMetric.Code).Inc()
		return nil, "", &shared.TransportError{Op: method + " " + req.Path, Err: err}
	}
	metrics.RequestCount.WithLabelValues(shared.CategoryLabel(req.Path), strconv.Itoa(res.StatusCode)).Inc()
	return res, access, nil
}

// refreshTokens runs at most one refresh at a time. Callers that saw the
// same stale token share its result. The refresh itself is detached from the
// caller's cancellation so an abandoned session cannot log everyone out.
func (t *Transport) refreshTokens(ctx context.Context, stale string) error {
	ch := t.flight.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shared.DefaultRefreshTimeout)
		defer cancel()
		return nil, t.rotate(rctx, stale)
	})
	select {
	case <-ctx.Done():
		return &shared.TransportError{Op: "refresh token", Err: ctx.Err()}
	case res := <-ch:
		return res.Err
	}
}

func (t *Transport) rotate(ctx context.Context, stale string) error {
	pair, err := t.store.Tokens(ctx)
	if err != nil {
		return t.fail(ctx, err)
	}
	if pair.Access != "" && pair.Access != stale {
		t.log.Debugw("Token pair already rotated by another request")
		return nil
	}
	if pair.Refresh == "" {
		return t.fail(ctx, shared.ErrNoRefreshToken)
	}

	next, err := t.refresh(ctx, pair.Refresh)
	if err != nil {
		return t.fail(ctx, err)
	}
	if next.Refresh == "" {
		next.Refresh = pair.Refresh
	}
	if err := t.store.SetTokens(ctx, next); err != nil {
		return t.fail(ctx, err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	if exp, ok := ExpiresAt(next.Access); ok {
		t.log.Infow("Access token refreshed", "expires_at", exp)
	} else {
		t.log.Info("Access token refreshed")
	}
	return nil
}

func (t *Transport) fail(ctx context.Context, cause error) error {
	metrics.TokenRefreshes.WithLabelValues("failure").Inc()
	metrics.ErrorCount.WithLabelValues("token_refresh", shared.ErrRefreshMetric.Code).Inc()
	t.log.Warnw("Token refresh failed, logging out", "error", cause)
	if err := t.store.Clear(ctx); err != nil {
		t.log.Errorw("Failed to clear token store", "error", err)
	}
	if t.onLogout != nil {
		t.onLogout()
	}
	return errors.Join(shared.ErrAuthRefreshFailed, shared.ErrRefreshMetric, cause)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func drain(res *http.Response) []byte {
	defer func() {
		_ = res.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(res.Body, shared.MaxErrorBodySize))
	return body
}

func upstreamError(status int, body []byte) error {
	return &shared.UpstreamError{StatusCode: status, Message: shared.ErrorMessage(body)}
}
