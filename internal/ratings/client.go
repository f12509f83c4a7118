package ratings

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
)

const (
	defaultBaseURL = "https://beta-ratings.uschess.org"
	defaultMSAURL  = "https://www.uschess.org/msa/MbrDtlMain.php"
	cacheTTL       = 6 * time.Hour
)

var (
	// Rating is the first numeric value inside the prominent rating div
	// on the player page.
	ratingRe = regexp.MustCompile(`(?s)<div[^>]*class="[^"]*text-lg font-semibold leading-none[^"]*"[^>]*>\s*([0-9][0-9,]*)`)
	// The MSA member page puts the expiration date in a bold cell on the
	// "Expiration Dt." row.
	expirationRe = regexp.MustCompile(`(?s)Expiration Dt\..*?<b>\s*([0-9]{4}-[0-9]{2}-[0-9]{2})`)
)

// Player is a rating lookup result.
type Player struct {
	MemberID   string     `json:"member_id"`
	Rating     int        `json:"rating"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Client fetches US Chess ratings for seat display. Lookups are best
// effort; callers must tolerate errors without affecting the game.
type Client struct {
	baseURL string
	msaURL  string
	http    *fasthttp.Client
	cache   *redis.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithCache enables a Redis read-through cache for lookups.
func WithCache(rdb *redis.Client) Option {
	return func(c *Client) { c.cache = rdb }
}

func WithMSABaseURL(u string) Option {
	return func(c *Client) { c.msaURL = strings.TrimRight(u, "/") }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		msaURL:         defaultMSAURL,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves a member id to the player's current regular rating.
// Results are cached; a cache hit never touches the network.
func (c *Client) Lookup(ctx context.Context, memberID string) (*Player, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("member id required")
	}

	if p := c.fromCache(ctx, memberID); p != nil {
		return p, nil
	}

	body, err := c.fetch(ctx, fmt.Sprintf("%s/player/%s", c.baseURL, memberID))
	if err != nil {
		return nil, err
	}
	rating, err := extractRating(body)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", memberID, err)
	}

	p := &Player{MemberID: memberID, Rating: rating}

	// Expiration lives on the legacy MSA page. Losing it is fine.
	if msaBody, err := c.fetch(ctx, fmt.Sprintf("%s?%s", c.msaURL, memberID)); err == nil {
		if exp, ok := extractExpiration(msaBody); ok {
			p.Expiration = &exp
		}
	}

	c.toCache(ctx, p)
	return p, nil
}

func (c *Client) cacheKey(memberID string) string { return "liveroom:rating:" + memberID }

func (c *Client) fromCache(ctx context.Context, memberID string) *Player {
	if c.cache == nil {
		return nil
	}
	b, err := c.cache.Get(ctx, c.cacheKey(memberID)).Bytes()
	if err != nil {
		return nil
	}
	var p Player
	if err := json.Unmarshal(b, &p); err != nil {
		return nil
	}
	return &p
}

func (c *Client) toCache(ctx context.Context, p *Player) {
	if c.cache == nil {
		return
	}
	if b, err := json.Marshal(p); err == nil {
		c.cache.Set(ctx, c.cacheKey(p.MemberID), b, cacheTTL)
	}
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	req.Header.SetUserAgent("liveroom/1.0")

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return nil, lastErr
			}
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("ratings fetch: status=%d url=%s", status, url)
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, lastErr
			}
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return nil, lastErr
			}
			continue
		}

		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, nil
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func extractRating(body []byte) (int, error) {
	m := ratingRe.FindSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("rating not found in page")
	}
	raw := strings.ReplaceAll(string(m[1]), ",", "")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse rating %q: %w", raw, err)
	}
	return n, nil
}

func extractExpiration(body []byte) (time.Time, bool) {
	m := expirationRe.FindSubmatch(body)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", string(m[1]))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
