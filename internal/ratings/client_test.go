package ratings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const playerPageFixture = `<html><body>
<div class="flex flex-col">
  <span class="text-xs uppercase">Regular</span>
  <div class="text-lg font-semibold leading-none">1,842</div>
</div>
</body></html>`

const msaPageFixture = `<table>
<tr><td>Expiration Dt.</td><td><b> 2027-03-31 </b></td></tr>
</table>`

func TestExtractRating(t *testing.T) {
	n, err := extractRating([]byte(playerPageFixture))
	if err != nil {
		t.Fatalf("extractRating: %v", err)
	}
	if n != 1842 {
		t.Fatalf("rating = %d, want 1842", n)
	}

	if _, err := extractRating([]byte("<html><body>nothing here</body></html>")); err == nil {
		t.Fatalf("extractRating should fail without the rating div")
	}
}

func TestExtractExpiration(t *testing.T) {
	exp, ok := extractExpiration([]byte(msaPageFixture))
	if !ok {
		t.Fatalf("expiration not found")
	}
	want := time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC)
	if !exp.Equal(want) {
		t.Fatalf("expiration = %v, want %v", exp, want)
	}

	if _, ok := extractExpiration([]byte("<table></table>")); ok {
		t.Fatalf("expiration found in empty page")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c := NewClient("", WithCache(rdb))
	ctx := context.Background()

	if p := c.fromCache(ctx, "12345678"); p != nil {
		t.Fatalf("cold cache returned %+v", p)
	}

	exp := time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC)
	c.toCache(ctx, &Player{MemberID: "12345678", Rating: 1842, Expiration: &exp})

	p := c.fromCache(ctx, "12345678")
	if p == nil {
		t.Fatalf("cache miss after write")
	}
	if p.Rating != 1842 || p.Expiration == nil || !p.Expiration.Equal(exp) {
		t.Fatalf("cached player = %+v", p)
	}

	// Entries expire with the TTL.
	mr.FastForward(cacheTTL + time.Minute)
	if p := c.fromCache(ctx, "12345678"); p != nil {
		t.Fatalf("stale entry survived TTL: %+v", p)
	}
}
