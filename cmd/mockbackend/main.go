package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardrec/internal/backendtest"
	"cardrec/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
)

func main() {
	// Flags / ENV Variables
	addr := flag.String("addr", ":8000", "Listen address")
	fixture := flag.String("fixture", "internal/backendtest/testdata/demo.yaml", "YAML fixture with the scripted streams")
	secret := flag.String("jwt-secret", "", "HS256 secret for issued tokens")
	accessTTL := flag.Duration("access-ttl", shared.DefaultAccessTTL, "Access token lifetime")
	subject := flag.String("subject", "demo-user", "Subject of the token pair printed at startup")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()
	start := time.Now()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	f, err := backendtest.LoadFixture(*fixture)
	if err != nil {
		panic(err)
	}
	server := backendtest.New(backendtest.Config{
		Secret:    []byte(*secret),
		AccessTTL: *accessTTL,
		Analyze:   f.Analyze,
		Details:   f.Details,
		Log:       log,
	})

	pair, err := server.IssueTokens(*subject)
	if err != nil {
		panic(err)
	}
	log.Infow("Issued token pair", "subject", *subject, "access", pair.Access, "refresh", pair.Refresh)

	e := server.Echo()
	go func() {
		if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	log.Infow("Mock backend listening", "addr", *addr, "fixture", *fixture)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	log.Infow("Mock backend stopped", "streams", server.Streams(), "refreshes", server.Refreshes(), "uptime", time.Since(start))
}
