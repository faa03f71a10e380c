package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"cardrec/internal/metrics"
	"cardrec/internal/shared"

	"github.com/golang-jwt/jwt/v5"
)

// NewHTTPRefresher posts the refresh token to the backend's token refresh
// endpoint and returns the new pair.
func NewHTTPRefresher(client *http.Client, baseURL string) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (shared.TokenPair, error) {
		data, err := json.Marshal(shared.RefreshRequest{Refresh: refreshToken})
		if err != nil {
			return shared.TokenPair{}, err
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+shared.RefreshPath, bytes.NewReader(data))
		if err != nil {
			return shared.TokenPair{}, fmt.Errorf("failed building refresh request: %w", err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "application/json")
		r.Header.Set("X-Request-ID", shared.NewRequestID())

		res, err := client.Do(r)
		if err != nil {
			return shared.TokenPair{}, &shared.TransportError{Op: "POST " + shared.RefreshPath, Err: err}
		}
		defer func() {
			_ = res.Body.Close()
		}()
		metrics.RequestCount.WithLabelValues("token_refresh", strconv.Itoa(res.StatusCode)).Inc()

		body, err := io.ReadAll(io.LimitReader(res.Body, shared.MaxErrorBodySize))
		if err != nil {
			return shared.TokenPair{}, &shared.TransportError{Op: "read refresh response", Err: err}
		}
		if !isSuccess(res.StatusCode) {
			return shared.TokenPair{}, &shared.UpstreamError{StatusCode: res.StatusCode, Message: string(body)}
		}

		var pair shared.TokenPair
		if err := json.Unmarshal(body, &pair); err != nil {
			return shared.TokenPair{}, fmt.Errorf("failed decoding refresh response: %w", err)
		}
		if pair.Access == "" {
			return shared.TokenPair{}, errors.New("refresh response missing access token")
		}
		return pair, nil
	}
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// It is only used for logging; the backend stays the authority on expiry.
func ExpiresAt(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
