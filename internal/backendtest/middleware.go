package backendtest

import (
	"fmt"
	"time"

	"cardrec/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Context carries the per-request logger and the authenticated subject.
type Context struct {
	echo.Context
	Log     *zap.SugaredLogger
	Reqid   string
	Subject string
}

func newTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Request().Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = shared.NewRequestID()
			}
			cc := &Context{Context: c, Log: log.With("request_id", reqID), Reqid: reqID}
			start := time.Now()
			err := next(cc)
			cc.Log.Debugw("end_of_request", "path", c.Path(), "status_code", fmt.Sprintf("%d", cc.Response().Status), "duration", time.Since(start).String())
			return err
		}
	}
}

func newRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw("Backend panic", "error", err.Error())
			return c.JSON(500, shared.APIErrorResponse{Error: "internal server error"})
		},
	})
}

// requireAccess rejects requests without a valid access token the way the
// backend does: a missing header has no code, a bad token carries
// token_not_valid.
func (s *Server) requireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*Context)
		token, ok := shared.ExtractBearer(c.Request().Header.Get("Authorization"))
		if !ok {
			s.rejected.Add(1)
			return c.JSON(401, shared.APIErrorResponse{Detail: "Authentication credentials were not provided."})
		}
		sub, err := s.verify(token, accessToken)
		if err != nil {
			s.rejected.Add(1)
			c.Log.Debugw("Rejected access token", "error", err)
			return c.JSON(401, shared.APIErrorResponse{
				Detail: "Given token not valid for any token type",
				Code:   shared.TokenNotValidCode,
			})
		}
		c.Subject = sub
		c.Log = c.Log.With("subject", sub)
		return next(c)
	}
}
