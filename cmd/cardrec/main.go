package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cardrec/internal/analysis"
	"cardrec/internal/auth"
	"cardrec/internal/client"
	"cardrec/internal/shared"

	"github.com/labstack/echo/v4"
	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Flags / ENV Variables
	baseURL := flag.String("base-url", "http://localhost:8000", "Backend base url")
	accessToken := flag.String("access-token", "", "Access token")
	refreshToken := flag.String("refresh-token", "", "Refresh token")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for a shared token pair")
	profile := flag.String("profile", "default", "Token profile inside redis")
	types := flag.String("types", "", "Comma separated merchant categories")
	storeName := flag.String("store-name", "", "Store name")
	storeAddress := flag.String("store-address", "", "Store address")
	cardID := flag.String("card-id", "", "Stream card details for this card instead of a recommendation")
	metricsAddr := flag.String("metrics-addr", "", "Serve prometheus metrics on host:port")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

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
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pair := shared.TokenPair{Access: *accessToken, Refresh: *refreshToken}
	var store auth.TokenStore = auth.NewMemoryTokenStore(pair)
	if *redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		rs, err := auth.NewRedisTokenStore(auth.RedisConfig{Client: redisClient, Profile: *profile})
		if err != nil {
			panic(err)
		}
		if !pair.Empty() {
			if err := rs.SetTokens(ctx, pair); err != nil {
				panic(err)
			}
		}
		store = rs
	}

	if *metricsAddr != "" {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
		go func() {
			if err := e.Start(*metricsAddr); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server stopped", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
			defer cancel()
			_ = e.Shutdown(sctx)
		}()
	}

	c, err := client.New(client.Config{
		BaseURL: *baseURL,
		Store:   store,
		OnLogout: func() {
			log.Warn("Session expired, log in again to get a new token pair")
		},
		Log: log,
	})
	if err != nil {
		panic(err)
	}

	out := json.NewEncoder(os.Stdout)
	if *cardID != "" {
		text, err := c.CardDetails(ctx, client.CardDetailsRequest{CardID: *cardID}, nil)
		if err != nil {
			fail(log, err)
		}
		_ = out.Encode(map[string]string{"card_id": *cardID, "details": text})
		return
	}

	_, err = c.Recommend(ctx, client.AnalyzeCardsRequest{
		Types:        strings.Split(*types, ","),
		StoreName:    *storeName,
		StoreAddress: *storeAddress,
	}, func(s analysis.Snapshot) {
		_ = out.Encode(s)
	})
	if err != nil {
		fail(log, err)
	}
}

func fail(log *zap.SugaredLogger, err error) {
	log.Errorw("Request failed", "error", shared.Message(err), "code", shared.MetricsCode(err))
	_ = log.Sync()
	os.Exit(1)
}
