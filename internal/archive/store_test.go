package archive

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestClientExposesLiveConnection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rdb := s.Client()
	if rdb == nil {
		t.Fatalf("Client returned nil")
	}
	// Components sharing the connection, like the ratings cache, must
	// see the same keyspace the store writes to.
	if err := rdb.Set(ctx, "liveroom:rating:123", "cached", time.Minute).Err(); err != nil {
		t.Fatalf("Set through shared client: %v", err)
	}
	got, err := rdb.Get(ctx, "liveroom:rating:123").Result()
	if err != nil || got != "cached" {
		t.Fatalf("Get through shared client = %q, %v", got, err)
	}
}

func TestReserveCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveCode(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("ReserveCode: %v", err)
	}
	if !ok {
		t.Fatalf("fresh code not reserved")
	}

	ok, err = s.ReserveCode(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("ReserveCode again: %v", err)
	}
	if ok {
		t.Fatalf("reserved code handed out twice")
	}

	ok, err = s.ReserveCode(ctx, "XY99ZZ")
	if err != nil || !ok {
		t.Fatalf("unrelated code blocked: ok=%v err=%v", ok, err)
	}
}

func TestSaveAndLoadGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &Game{
		GameID:      "g-1",
		Code:        "AB12CD",
		Result:      "White wins by checkmate!",
		Outcome:     "white",
		Method:      "checkmate",
		WhiteName:   "alice",
		BlackName:   "bob",
		TimeControl: "3+2",
		MovesUCI:    []string{"e2e4", "e7e5"},
		StartedAt:   time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
		EndedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveGame(ctx, g); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}

	got, err := s.LoadGame(ctx, "g-1")
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if got == nil {
		t.Fatalf("saved game not found")
	}
	if got.Code != g.Code || got.Outcome != g.Outcome || len(got.MovesUCI) != 2 {
		t.Fatalf("loaded = %+v", got)
	}

	missing, err := s.LoadGame(ctx, "nope")
	if err != nil {
		t.Fatalf("LoadGame missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing game returned %+v", missing)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g-1", "g-2", "g-3"} {
		if err := s.SaveGame(ctx, &Game{GameID: id, Outcome: "draw"}); err != nil {
			t.Fatalf("SaveGame(%s): %v", id, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].GameID != "g-3" || got[1].GameID != "g-2" {
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.GameID
		}
		t.Fatalf("recent order = %v, want [g-3 g-2]", ids)
	}
}
