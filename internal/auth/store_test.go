package auth

import (
	"context"
	"testing"

	"cardrec/internal/shared"

	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenStore(t *testing.T) {
	testTokenStore(t, NewMemoryTokenStore(shared.TokenPair{}))
}

func TestRedisTokenStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	s, err := NewRedisTokenStore(RedisConfig{Client: client, Profile: "test"})
	if err != nil {
		t.Fatalf("Failed to create Redis token store: %v", err)
	}
	testTokenStore(t, s)

	t.Run("Profiles", func(t *testing.T) {
		other, err := NewRedisTokenStore(RedisConfig{Client: client, Profile: "other"})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetTokens(ctx, shared.TokenPair{Access: "a", Refresh: "r"}); err != nil {
			t.Fatal(err)
		}
		pair, err := other.Tokens(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !pair.Empty() {
			t.Fatalf("profiles share tokens: %+v", pair)
		}
	})
}

func TestNewRedisTokenStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisTokenStore(RedisConfig{}); err == nil {
		t.Fatal("expected an error without a client")
	}
}

func testTokenStore(t *testing.T, s TokenStore) {
	ctx := context.Background()

	t.Run("EmptyByDefault", func(t *testing.T) {
		if err := s.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		pair, err := s.Tokens(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !pair.Empty() {
			t.Fatalf("expected empty pair, got %+v", pair)
		}
	})

	t.Run("SetReplacesBoth", func(t *testing.T) {
		if err := s.SetTokens(ctx, shared.TokenPair{Access: "a1", Refresh: "r1"}); err != nil {
			t.Fatal(err)
		}
		if err := s.SetTokens(ctx, shared.TokenPair{Access: "a2", Refresh: "r2"}); err != nil {
			t.Fatal(err)
		}
		pair, err := s.Tokens(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if pair.Access != "a2" || pair.Refresh != "r2" {
			t.Fatalf("got %+v", pair)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if err := s.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		pair, err := s.Tokens(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !pair.Empty() {
			t.Fatalf("pair survived Clear: %+v", pair)
		}
	})
}
