package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wudi/agentrouter/internal/store"
)

func newTestReclaimer(t *testing.T, backends []string, ttl time.Duration) (*Reclaimer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewReclaimer(store.NewWithClient(client), backends, ttl, nil), mr
}

func TestSweepStaleMappings(t *testing.T) {
	rc, mr := newTestReclaimer(t, []string{"10.0.0.1", "10.0.0.2"}, time.Hour)

	stale := float64(time.Now().Add(-2 * time.Hour).UnixMilli())
	fresh := float64(time.Now().UnixMilli())
	mr.ZAdd("backend:10.0.0.1", stale, "ghost1")
	mr.ZAdd("backend:10.0.0.1", fresh, "live1")
	mr.ZAdd("backend:10.0.0.2", stale, "ghost2")

	if err := rc.SweepStaleMappings(context.Background()); err != nil {
		t.Fatalf("SweepStaleMappings error: %v", err)
	}

	members, _ := mr.ZMembers("backend:10.0.0.1")
	if len(members) != 1 || members[0] != "live1" {
		t.Errorf("expected only live1 to survive, got %v", members)
	}
	if members, _ := mr.ZMembers("backend:10.0.0.2"); len(members) != 0 {
		t.Errorf("expected empty set, got %v", members)
	}
}

func TestSweepStaleMappings_BoundaryAtTTL(t *testing.T) {
	rc, mr := newTestReclaimer(t, []string{"10.0.0.1"}, time.Hour)

	now := time.Now()
	rc.now = func() time.Time { return now }

	cutoff := float64(now.Add(-time.Hour).UnixMilli())
	mr.ZAdd("backend:10.0.0.1", cutoff, "at-cutoff")
	mr.ZAdd("backend:10.0.0.1", cutoff+1, "just-inside")

	if err := rc.SweepStaleMappings(context.Background()); err != nil {
		t.Fatalf("SweepStaleMappings error: %v", err)
	}

	members, _ := mr.ZMembers("backend:10.0.0.1")
	if len(members) != 1 || members[0] != "just-inside" {
		t.Errorf("cutoff is inclusive on the stale side, got %v", members)
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	rc, mr := newTestReclaimer(t, []string{"10.0.0.1"}, time.Hour)

	// Scores in logout_tokens are seconds.
	past := float64(time.Now().Add(-time.Minute).Unix())
	future := float64(time.Now().Add(time.Hour).Unix())
	mr.ZAdd("logout_tokens", past, "expired-token")
	mr.ZAdd("logout_tokens", future, "valid-token")

	if err := rc.SweepExpiredTokens(context.Background()); err != nil {
		t.Fatalf("SweepExpiredTokens error: %v", err)
	}

	members, _ := mr.ZMembers("logout_tokens")
	if len(members) != 1 || members[0] != "valid-token" {
		t.Errorf("expected only the future token to survive, got %v", members)
	}
}

func TestRunStaleMappings_StopsOnCancel(t *testing.T) {
	rc, _ := newTestReclaimer(t, []string{"10.0.0.1"}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rc.RunStaleMappings(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reclaimer did not stop on context cancellation")
	}
}
