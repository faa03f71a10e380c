// Package backendtest serves the recommendation backend's streaming and token
// endpoints from scripted frames. It backs the package tests and the
// mockbackend command.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cardrec/internal/shared"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type tokenType string

const (
	accessToken  tokenType = "access"
	refreshToken tokenType = "refresh"
)

type claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type Config struct {
	// Secret signs the HS256 tokens. Default: a random value per server.
	Secret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Analyze *Script
	Details *Script

	Log *zap.SugaredLogger
}

type Server struct {
	echo       *echo.Echo
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu         sync.Mutex
	analyze    *Script
	details    *Script
	used       map[string]bool
	lastQuery  url.Values
	lastCardID string

	failRefresh atomic.Bool
	refreshes   atomic.Int32
	streams     atomic.Int32
	rejected    atomic.Int32
}

func New(cfg Config) *Server {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = shared.DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = shared.DefaultRefreshTTL
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		secret:     cfg.Secret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		analyze:    cfg.Analyze,
		details:    cfg.Details,
		used:       make(map[string]bool),
	}

	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	base := e.Group("")
	base.Use(newRecoverMiddleware(cfg.Log))
	base.Use(newTrackMiddleware(cfg.Log))
	base.POST(shared.RefreshPath, s.refresh)
	base.GET(shared.AnalyzeCardsPath, s.analyzeCards, s.requireAccess)
	base.GET(shared.CardDetailsPath+":card_id/", s.cardDetails, s.requireAccess)
	return s
}

// Start serves a new Server on a loopback listener until the test ends.
func Start(tb testing.TB, cfg Config) (*Server, string) {
	tb.Helper()
	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	tb.Cleanup(srv.Close)
	return s, srv.URL
}

func (s *Server) Handler() http.Handler { return s.echo }
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) SetAnalyze(script *Script) {
	s.mu.Lock()
	s.analyze = script
	s.mu.Unlock()
}

func (s *Server) SetDetails(script *Script) {
	s.mu.Lock()
	s.details = script
	s.mu.Unlock()
}

// FailRefresh makes every refresh attempt answer as if the refresh token had
// expired.
func (s *Server) FailRefresh(fail bool) { s.failRefresh.Store(fail) }

func (s *Server) Refreshes() int { return int(s.refreshes.Load()) }
func (s *Server) Streams() int { return int(s.streams.Load()) }
func (s *Server) Rejected() int { return int(s.rejected.Load()) }

func (s *Server) LastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) LastCardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCardID
}

// IssueTokens returns a fresh pair for subject.
func (s *Server) IssueTokens(subject string) (shared.TokenPair, error) {
	now := time.Now()
	access, err := s.sign(subject, accessToken, now.Add(s.accessTTL))
	if err != nil {
		return shared.TokenPair{}, err
	}
	refresh, err := s.sign(subject, refreshToken, now.Add(s.refreshTTL))
	if err != nil {
		return shared.TokenPair{}, err
	}
	return shared.TokenPair{Access: access, Refresh: refresh}, nil
}

// ExpiredTokens returns a pair whose access token has already expired and
// whose refresh token is still valid.
func (s *Server) ExpiredTokens(subject string) (shared.TokenPair, error) {
	now := time.Now()
	access, err := s.sign(subject, accessToken, now.Add(-time.Minute))
	if err != nil {
		return shared.TokenPair{}, err
	}
	refresh, err := s.sign(subject, refreshToken, now.Add(s.refreshTTL))
	if err != nil {
		return shared.TokenPair{}, err
	}
	return shared.TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *Server) sign(subject string, typ tokenType, exp time.Time) (string, error) {
	c := claims{
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Server) parse(token string, typ tokenType) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if c.TokenType != string(typ) {
		return nil, fmt.Errorf("unexpected token type %q", c.TokenType)
	}
	return &c, nil
}

func (s *Server) verify(token string, typ tokenType) (string, error) {
	c, err := s.parse(token, typ)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

func tokenNotValid(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, shared.APIErrorResponse{
		Detail: "Token is invalid or expired",
		Code:   shared.TokenNotValidCode,
	})
}

// refresh rotates the pair. A refresh token is accepted once.
func (s *Server) refresh(cc echo.Context) error {
	c := cc.(*Context)
	s.refreshes.Add(1)

	var req shared.RefreshRequest
	if err := c.Bind(&req); err != nil || req.Refresh == "" {
		return c.JSON(http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
	}
	if s.failRefresh.Load() {
		return tokenNotValid(c)
	}
	rc, err := s.parse(req.Refresh, refreshToken)
	if err != nil {
		c.Log.Debugw("Rejected refresh token", "error", err)
		return tokenNotValid(c)
	}

	s.mu.Lock()
	if s.used[rc.ID] {
		s.mu.Unlock()
		c.Log.Warnw("Refresh token reused", "jti", rc.ID)
		return tokenNotValid(c)
	}
	s.used[rc.ID] = true
	s.mu.Unlock()

	pair, err := s.IssueTokens(rc.Subject)
	if err != nil {
		c.Log.Errorw("Failed to issue tokens", "error", err)
		return c.JSON(http.StatusInternalServerError, shared.APIErrorResponse{Error: "internal server error"})
	}
	return c.JSON(http.StatusOK, pair)
}

func (s *Server) analyzeCards(cc echo.Context) error {
	c := cc.(*Context)
	query := c.QueryParams()
	if len(query["types"]) == 0 {
		return c.JSON(http.StatusBadRequest, shared.APIErrorResponse{Error: `Query parameter "types" is required.`})
	}
	s.mu.Lock()
	s.lastQuery = query
	script := s.analyze
	s.mu.Unlock()
	return s.replay(c, script)
}

func (s *Server) cardDetails(cc echo.Context) error {
	c := cc.(*Context)
	id, err := uuid.Parse(c.Param("card_id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, shared.APIErrorResponse{Detail: "Not found."})
	}
	s.mu.Lock()
	s.lastCardID = id.String()
	script := s.details
	s.mu.Unlock()
	return s.replay(c, script)
}

func setupSSEHeaders(c *Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

func (s *Server) replay(c *Context, script *Script) error {
	s.streams.Add(1)
	if script == nil {
		script = &Script{Frames: []Frame{DoneFrame("")}}
	}
	if script.Status != 0 && script.Status != http.StatusOK {
		if json.Valid([]byte(script.Body)) {
			return c.Blob(script.Status, echo.MIMEApplicationJSON, []byte(script.Body))
		}
		return c.String(script.Status, script.Body)
	}

	setupSSEHeaders(c)
	ctx := c.Request().Context()
	for _, f := range script.Frames {
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-ctx.Done():
				return nil
			}
		}
		line, err := f.Line()
		if err != nil {
			c.Log.Errorw("Failed to encode frame", "error", err)
			return nil
		}
		if _, err := fmt.Fprintf(c.Response(), "%s\n\n", line); err != nil {
			c.Log.Debugw("Client went away", "error", err)
			return nil
		}
		c.Response().Flush()
	}
	return nil
}
