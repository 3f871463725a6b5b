package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client), mr
}

func TestGetSetEx(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	if err := s.SetEx(ctx, "client:abc", "10.0.0.1", time.Hour); err != nil {
		t.Fatalf("SetEx error: %v", err)
	}

	got, err := s.Get(ctx, "client:abc")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %q", got)
	}

	ttl := mr.TTL("client:abc")
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("unexpected TTL: %s", ttl)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := testStore(t)

	_, err := s.Get(context.Background(), "client:nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPair(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	score := float64(time.Now().UnixMilli())
	err := s.RecordPair(ctx, "client:abc", "10.0.0.1", time.Hour, "backend:10.0.0.1", "abc", score)
	if err != nil {
		t.Fatalf("RecordPair error: %v", err)
	}

	if got, _ := mr.Get("client:abc"); got != "10.0.0.1" {
		t.Errorf("forward mapping not written, got %q", got)
	}
	if ttl := mr.TTL("client:abc"); ttl <= 0 {
		t.Errorf("forward mapping has no TTL: %s", ttl)
	}

	members, err := mr.ZMembers("backend:10.0.0.1")
	if err != nil || len(members) != 1 || members[0] != "abc" {
		t.Errorf("active set entry not written: %v %v", members, err)
	}
}

func TestZCountWindow(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	mr.ZAdd("backend:10.0.0.1", 100, "old")
	mr.ZAdd("backend:10.0.0.1", 5000, "live1")
	mr.ZAdd("backend:10.0.0.1", 6000, "live2")

	count, err := s.ZCount(ctx, "backend:10.0.0.1", 4000, 7000)
	if err != nil {
		t.Fatalf("ZCount error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 live entries, got %d", count)
	}
}

func TestZRem(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	mr.ZAdd("backend:10.0.0.1", 5000, "abc")
	if err := s.ZRem(ctx, "backend:10.0.0.1", "abc"); err != nil {
		t.Fatalf("ZRem error: %v", err)
	}
	if members, _ := mr.ZMembers("backend:10.0.0.1"); len(members) != 0 {
		t.Errorf("expected empty set, got %v", members)
	}

	// Removing a missing member is a no-op, not an error.
	if err := s.ZRem(ctx, "backend:10.0.0.1", "abc"); err != nil {
		t.Errorf("repeated ZRem should not error: %v", err)
	}
}

func TestZRemRangeByScoreMulti(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	mr.ZAdd("backend:10.0.0.1", 100, "stale1")
	mr.ZAdd("backend:10.0.0.1", 200, "stale2")
	mr.ZAdd("backend:10.0.0.1", 9000, "live")
	mr.ZAdd("backend:10.0.0.2", 150, "stale3")

	removed, err := s.ZRemRangeByScoreMulti(ctx, []string{"backend:10.0.0.1", "backend:10.0.0.2"}, 0, 1000)
	if err != nil {
		t.Fatalf("ZRemRangeByScoreMulti error: %v", err)
	}
	if removed["backend:10.0.0.1"] != 2 {
		t.Errorf("expected 2 removed from first set, got %d", removed["backend:10.0.0.1"])
	}
	if removed["backend:10.0.0.2"] != 1 {
		t.Errorf("expected 1 removed from second set, got %d", removed["backend:10.0.0.2"])
	}

	members, _ := mr.ZMembers("backend:10.0.0.1")
	if len(members) != 1 || members[0] != "live" {
		t.Errorf("live entry should survive, got %v", members)
	}
}

func TestPing(t *testing.T) {
	s, mr := testStore(t)

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}

	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected Ping error after store shutdown")
	}
}
