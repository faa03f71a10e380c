package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultStreamTimeout   = 10 * time.Minute
	DefaultDialTimeout     = 10 * time.Second
	DefaultRefreshTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Stream Configuration
const (
	DataPrefix        = "data: "
	InitialLineBuffer = 64 * 1024
	MaxLineSize       = 8 * 1024 * 1024
	MaxErrorBodySize  = 1 << 20
)

// Auth Configuration
const (
	TokenNotValidCode   = "token_not_valid"
	RefreshPath         = "/api/token/refresh/"
	TokenStoreKeyPrefix = "cardrec:tokens:"
	DefaultAccessTTL    = 5 * time.Minute
	DefaultRefreshTTL   = 24 * time.Hour
)

// Request ids
const (
	RequestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	RequestIDLength   = 28
)

// Endpoints
const (
	AnalyzeCardsPath = "/analyze-cards-with-gpt-streaming/"
	CardDetailsPath  = "/card-details-streaming/"
)
