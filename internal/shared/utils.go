// Package shared
package shared

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/aidarkhanov/nanoid"
)

func GetEnv(env, fallback string) string {
	if value, ok := os.LookupEnv(env); ok {
		return value
	}
	return fallback
}

// NewRequestID returns an id suitable for the X-Request-ID header.
func NewRequestID() string {
	id, err := nanoid.Generate(RequestIDAlphabet, RequestIDLength)
	if err != nil {
		return ""
	}
	return "req_" + id
}

// ExtractBearer returns the token of an `Authorization: Bearer <token>` header.
func ExtractBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ErrorMessage picks the message to surface for a failed response body.
func ErrorMessage(body []byte) string {
	var decoded APIErrorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	if len(body) == 0 {
		return "unknown error"
	}
	return string(body)
}

// IsTokenNotValid reports whether a 401 body carries the expired token marker.
func IsTokenNotValid(body []byte) bool {
	var decoded APIErrorResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false
	}
	return decoded.Code == TokenNotValidCode
}

// CategoryLabel turns a request path into a bounded metrics label.
func CategoryLabel(path string) string {
	switch {
	case strings.HasPrefix(path, AnalyzeCardsPath):
		return "analyze_cards"
	case strings.HasPrefix(path, CardDetailsPath):
		return "card_details"
	case strings.HasPrefix(path, RefreshPath):
		return "token_refresh"
	default:
		return "other"
	}
}
