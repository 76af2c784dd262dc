package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

func TestStoreReportsUnreachableServerAsTemporary(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	s := NewWithClient(client, time.Hour)
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Load(ctx, "k"); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := s.Save(ctx, "k", []byte("x")); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := s.Ping(ctx); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestNewWithClientClampsNegativeTTL(t *testing.T) {
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), -time.Second)
	defer s.Close()
	if s.ttl != 0 {
		t.Fatalf("expected ttl 0, got %v", s.ttl)
	}
}
