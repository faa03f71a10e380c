// Package client runs card recommendations and card detail streams against
// the backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cardrec/internal/analysis"
	"cardrec/internal/auth"
	"cardrec/internal/shared"
	"cardrec/internal/sse"
	"cardrec/internal/stream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL  string
	Store    auth.TokenStore
	OnLogout func()

	// HTTPClient is used for the token refresh. Streams always use their own
	// long-timeout client.
	HTTPClient *http.Client

	Log *zap.SugaredLogger
}

type Client struct {
	transport *auth.Transport
	session   *stream.Session
	log       *zap.SugaredLogger
}

func New(cfg Config) (*Client, error) {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	transport, err := auth.NewTransport(auth.Config{
		BaseURL:    cfg.BaseURL,
		Store:      cfg.Store,
		OnLogout:   cfg.OnLogout,
		HTTPClient: cfg.HTTPClient,
		Log:        cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		transport: transport,
		session:   stream.NewSession(transport, cfg.Log),
		log:       cfg.Log,
	}, nil
}

// AnalyzeCardsRequest asks for a ranking of the user's cards for a merchant.
// Types are the merchant categories; at least one is required.
type AnalyzeCardsRequest struct {
	Types        []string
	StoreName    string
	StoreAddress string
}

func (r AnalyzeCardsRequest) Request() (*auth.Request, error) {
	q := url.Values{}
	for _, t := range r.Types {
		if t = strings.TrimSpace(t); t != "" {
			q.Add("types", t)
		}
	}
	if len(q["types"]) == 0 {
		return nil, shared.ErrMissingTypes
	}
	if r.StoreName != "" {
		q.Set("store_name", r.StoreName)
	}
	if r.StoreAddress != "" {
		q.Set("store_address", r.StoreAddress)
	}
	return &auth.Request{Method: http.MethodGet, Path: shared.AnalyzeCardsPath, Query: q}, nil
}

type CardDetailsRequest struct {
	CardID string
}

func (r CardDetailsRequest) Request() (*auth.Request, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.CardID))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidCardID, r.CardID)
	}
	return &auth.Request{Method: http.MethodGet, Path: shared.CardDetailsPath + id.String() + "/"}, nil
}

// Recommend streams a recommendation and returns the final snapshot.
// onUpdate, when set, receives a snapshot after every change. A failure
// after the ranking arrived returns the partial snapshot with the error.
func (c *Client) Recommend(ctx context.Context, req AnalyzeCardsRequest, onUpdate func(analysis.Snapshot)) (analysis.Snapshot, error) {
	r, err := req.Request()
	if err != nil {
		return analysis.Snapshot{}, err
	}
	r.ID = shared.NewRequestID()
	log := c.log.With("request_id", r.ID)
	log.Infow("Requesting recommendation", "types", req.Types, "store_name", req.StoreName)

	agg := analysis.New(log)
	events, err := c.session.Open(ctx, r)
	if err != nil {
		return analysis.Snapshot{State: analysis.Failed, Err: err, Message: shared.Message(err)}, err
	}
	err = agg.Run(ctx, events, onUpdate)
	snap := agg.Snapshot()
	if err != nil {
		log.Warnw("Recommendation ended early", "state", snap.State.String(), "error", shared.Message(err))
	}
	return snap, err
}

// CardDetails streams the details text for one card. onText, when set,
// receives the text accumulated so far after every chunk.
func (c *Client) CardDetails(ctx context.Context, req CardDetailsRequest, onText func(string)) (string, error) {
	r, err := req.Request()
	if err != nil {
		return "", err
	}
	r.ID = shared.NewRequestID()
	log := c.log.With("request_id", r.ID)

	events, err := c.session.Open(ctx, r)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return text.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return text.String(), ctx.Err()
				}
				return text.String(), errors.Join(&shared.StreamError{Message: shared.ErrStreamClosed.Error()}, shared.ErrStreamClosed)
			}
			switch ev.Kind {
			case sse.KindChunk:
				text.WriteString(ev.Text)
				if onText != nil {
					onText(text.String())
				}
			case sse.KindDone:
				if ev.Text != "" {
					text.Reset()
					text.WriteString(ev.Text)
				}
				log.Debugw("Card details completed", "bytes", text.Len())
				return text.String(), nil
			case sse.KindError:
				log.Warnw("Card details failed", "message", ev.Text)
				return text.String(), &shared.StreamError{Message: ev.Text}
			}
		}
	}
}
