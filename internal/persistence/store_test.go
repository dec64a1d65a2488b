package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/adewale/keyboardia/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveHotLoadHotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := model.NewSession("s1")
	sess.Tracks = append(sess.Tracks, model.NewTrack("t1", "kick", "909"))
	sess.StateSeq = 42

	if err := s.SaveHot(ctx, sess); err != nil {
		t.Fatalf("SaveHot: %v", err)
	}
	got, err := s.LoadHot(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadHot: %v", err)
	}
	if got.StateSeq != 42 || len(got.Tracks) != 1 || got.Tracks[0].ID != "t1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSaveHotUpsertsOnRepeatedSave(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := model.NewSession("s1")
	sess.StateSeq = 1
	if err := s.SaveHot(ctx, sess); err != nil {
		t.Fatalf("SaveHot 1: %v", err)
	}
	sess.StateSeq = 2
	if err := s.SaveHot(ctx, sess); err != nil {
		t.Fatalf("SaveHot 2: %v", err)
	}

	got, err := s.LoadHot(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadHot: %v", err)
	}
	if got.StateSeq != 2 {
		t.Fatalf("expected upsert to latest state_seq, got %d", got.StateSeq)
	}
}

func TestLoadHotNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadHot(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHydrateFallsBackToColdTier(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := model.NewSession("s1")
	sess.StateSeq = 7
	if err := s.SaveCold(ctx, sess); err != nil {
		t.Fatalf("SaveCold: %v", err)
	}

	got, err := s.Hydrate(ctx, "s1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if got.StateSeq != 7 {
		t.Fatalf("expected cold-tier fallback, got state_seq=%d", got.StateSeq)
	}

	hot, err := s.LoadHot(ctx, "s1")
	if err != nil {
		t.Fatalf("expected cold-tier hydration to mirror into hot tier: %v", err)
	}
	if hot.StateSeq != 7 {
		t.Fatalf("expected mirrored hot tier state_seq=7, got %d", hot.StateSeq)
	}
}

func TestHydratePrefersHotTierOverCold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hot := model.NewSession("s1")
	hot.StateSeq = 10
	cold := model.NewSession("s1")
	cold.StateSeq = 5

	if err := s.SaveCold(ctx, cold); err != nil {
		t.Fatalf("SaveCold: %v", err)
	}
	if err := s.SaveHot(ctx, hot); err != nil {
		t.Fatalf("SaveHot: %v", err)
	}

	got, err := s.Hydrate(ctx, "s1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if got.StateSeq != 10 {
		t.Fatalf("expected hot tier to win, got state_seq=%d", got.StateSeq)
	}
}

func TestHydrateNotFoundWhenNeitherTierHasSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Hydrate(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionSummariesOrdersByMostRecentlyUpdated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := model.NewSession("s-older")
	older.StateSeq = 1
	if err := s.SaveHot(ctx, older); err != nil {
		t.Fatalf("SaveHot older: %v", err)
	}
	time.Sleep(2 * time.Millisecond) // ensure a distinct updated_at_unix_ms
	newer := model.NewSession("s-newer")
	newer.StateSeq = 2
	if err := s.SaveHot(ctx, newer); err != nil {
		t.Fatalf("SaveHot newer: %v", err)
	}

	sums, err := s.ListSessionSummaries(ctx)
	if err != nil {
		t.Fatalf("ListSessionSummaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].SessionID != "s-newer" {
		t.Fatalf("expected most recently updated session first, got %+v", sums)
	}
}
