package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeReservationTTL = 24 * time.Hour
	gameTTL            = 7 * 24 * time.Hour
	recentIndexLen     = 100
)

// Game is the archived record of one finished session.
type Game struct {
	GameID      string    `json:"game_id"`
	Code        string    `json:"code"`
	Result      string    `json:"result"`
	Outcome     string    `json:"outcome"`
	Method      string    `json:"method"`
	WhiteName   string    `json:"white_name"`
	BlackName   string    `json:"black_name"`
	TimeControl string    `json:"time_control"`
	MovesUCI    []string  `json:"moves_uci"`
	PGN         string    `json:"pgn,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Store keeps code reservations and finished-game records in Redis.
type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for archive store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wires an existing client, used by tests.
func NewStoreWithClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Client exposes the underlying redis client so other components, such
// as the ratings cache, can share the connection.
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyCode(code string) string { return "liveroom:code:" + code }
func (s *Store) keyGame(id string) string   { return "liveroom:game:" + id }
func (s *Store) keyRecent() string          { return "liveroom:recent" }

// ReserveCode claims a room code for the reservation window. It returns
// false when another room already holds the code.
func (s *Store) ReserveCode(ctx context.Context, code string) (bool, error) {
	return s.rdb.SetNX(ctx, s.keyCode(code), "1", codeReservationTTL).Result()
}

// SaveGame archives a finished game and pushes it onto the recent index.
func (s *Store) SaveGame(ctx context.Context, g *Game) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyGame(g.GameID), b, gameTTL)
	pipe.LPush(ctx, s.keyRecent(), g.GameID)
	pipe.LTrim(ctx, s.keyRecent(), 0, recentIndexLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadGame fetches one archived game; (nil, nil) when absent.
func (s *Store) LoadGame(ctx context.Context, gameID string) (*Game, error) {
	b, err := s.rdb.Get(ctx, s.keyGame(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Recent returns up to n of the most recently archived games, newest
// first. Entries whose record already expired are skipped.
func (s *Store) Recent(ctx context.Context, n int) ([]*Game, error) {
	if n <= 0 || n > recentIndexLen {
		n = recentIndexLen
	}
	ids, err := s.rdb.LRange(ctx, s.keyRecent(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Game, 0, len(ids))
	for _, id := range ids {
		g, err := s.LoadGame(ctx, id)
		if err != nil {
			return nil, err
		}
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
