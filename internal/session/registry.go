package session

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/castlebay/liveroom/internal/msgcat"
	"github.com/castlebay/liveroom/internal/obslog"
	"github.com/castlebay/liveroom/internal/rules"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CodeReserver claims a room code against reuse across restarts and
// replicas. ReserveCode returns false when the code is already taken.
type CodeReserver interface {
	ReserveCode(ctx context.Context, code string) (bool, error)
}

// RegistryConfig carries the tunables the registry needs.
type RegistryConfig struct {
	MaxRooms    int
	IdleTimeout time.Duration
}

// Registry owns every live session, keyed by normalized room code.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Session

	engine   rules.Engine
	codes    CodeReserver // may be nil
	cat      *msgcat.Catalog
	onFinish func(FinalResult)
	cfg      RegistryConfig
}

func NewRegistry(engine rules.Engine, codes CodeReserver, cat *msgcat.Catalog, onFinish func(FinalResult), cfg RegistryConfig) *Registry {
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = 500
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Registry{
		rooms:    make(map[string]*Session),
		engine:   engine,
		codes:    codes,
		cat:      cat,
		onFinish: onFinish,
		cfg:      cfg,
	}
}

// NormalizeCode upper-cases and trims a room code so lookups are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Created describes a freshly opened room.
type Created struct {
	Session  *Session
	Code     string
	Identity string
	Color    Color
}

// Create opens a new room. The creator takes the white seat and gets a
// fresh identity token to rejoin with later. The reservation round trip
// runs outside the registry lock so a slow reserver cannot stall
// lookups on other rooms.
func (r *Registry) Create(ctx context.Context, name, secret, timeControl string, conn PeerConn) (*Created, error) {
	tc, err := ParseTimeControl(timeControl)
	if err != nil {
		return nil, err
	}

	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if len(r.rooms) >= r.cfg.MaxRooms {
			r.mu.Unlock()
			return nil, ErrCodeSpace
		}
		_, exists := r.rooms[code]
		r.mu.Unlock()
		if exists {
			continue
		}

		if r.codes != nil {
			ok, err := r.codes.ReserveCode(ctx, code)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		now := time.Now()
		s := &Session{
			code:       code,
			gameID:     uuid.NewString(),
			secretHash: HashSecret(secret),
			tc:         tc,
			game:       r.engine.NewGame(),
			clock:      NewClock(tc),
			status:     StatusWaiting,
			createdAt:  now,
			lastActive: now,
			stopTick:   make(chan struct{}),
			onFinish:   r.onFinish,
			cat:        r.cat,
		}
		identity := uuid.NewString()
		s.seats[0] = &Seat{Color: White, Identity: identity, Name: strings.TrimSpace(name)}
		s.mu.Lock()
		s.attachLocked(s.seats[0], conn)
		s.mu.Unlock()

		r.mu.Lock()
		if _, taken := r.rooms[code]; taken {
			// Lost a local race for the same code while unlocked.
			r.mu.Unlock()
			continue
		}
		r.rooms[code] = s
		r.mu.Unlock()

		obslog.L().Info("room created",
			zap.String("code", code),
			zap.String("game_id", s.gameID),
			zap.String("time_control", tc.String()),
			zap.Bool("password", s.PasswordRequired()))
		return &Created{Session: s, Code: code, Identity: identity, Color: White}, nil
	}
	return nil, ErrCodeSpace
}

// codeGen returns 6 upper alnum characters.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}

// JoinResult describes the seat a join call landed in.
type JoinResult struct {
	Session  *Session
	Identity string
	Color    Color
	Rejoined bool
	Started  bool
}

// Join seats a peer in a room. A known identity reclaims its original
// seat and color, even after the game finished; an unknown identity
// takes the black seat if it is still free, which starts the game.
func (r *Registry) Join(code, identity, name, secret string, conn PeerConn) (*JoinResult, error) {
	s, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	if identity != "" {
		if seat := s.seatByIdentityLocked(identity); seat != nil {
			// Protected rooms gate reconnects too.
			if !checkSecret(s.secretHash, secret) {
				s.mu.Unlock()
				return nil, ErrAccessDenied
			}
			s.attachLocked(seat, conn)
			s.mu.Unlock()
			return &JoinResult{Session: s, Identity: identity, Color: seat.Color, Rejoined: true}, nil
		}
	}

	if s.seats[1] != nil {
		s.mu.Unlock()
		return nil, ErrRoomFull
	}
	if !checkSecret(s.secretHash, secret) {
		s.mu.Unlock()
		return nil, ErrAccessDenied
	}

	newIdentity := uuid.NewString()
	s.seats[1] = &Seat{Color: Black, Identity: newIdentity, Name: strings.TrimSpace(name)}
	s.attachLocked(s.seats[1], conn)
	s.sendToLocked(White, OpponentJoined{
		Type:  "opponent-joined",
		Name:  s.seats[1].Name,
		Color: Black,
	})

	started := false
	if s.status == StatusWaiting {
		s.status = StatusActive
		s.startedAt = time.Now()
		started = true
	}
	s.mu.Unlock()

	if started {
		go s.runClock()
		obslog.L().Info("room started", zap.String("code", s.code), zap.String("game_id", s.gameID))
	}
	return &JoinResult{Session: s, Identity: newIdentity, Color: Black, Started: started}, nil
}

// Lookup resolves a code to its live session.
func (r *Registry) Lookup(code string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// VerifyResult answers a pre-join check about a room.
type VerifyResult struct {
	Verified         bool `json:"verified"`
	PasswordRequired bool `json:"password_required"`
}

// VerifySecret lets a client test a code and secret before committing
// to a join. Unknown rooms answer the same as a wrong secret so the
// check does not leak which codes exist.
func (r *Registry) VerifySecret(code, secret string) VerifyResult {
	s, err := r.Lookup(code)
	if err != nil {
		return VerifyResult{Verified: false, PasswordRequired: true}
	}
	return VerifyResult{
		Verified:         checkSecret(s.secretHash, secret),
		PasswordRequired: s.PasswordRequired(),
	}
}

// Validate reports whether a room code refers to a joinable or
// resumable room. Finished rooms no longer validate.
func (r *Registry) Validate(code string) bool {
	s, err := r.Lookup(code)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusWaiting || s.status == StatusActive
}

// Retire drops a session from the registry and severs its peers.
func (r *Registry) Retire(code string) {
	code = NormalizeCode(code)
	r.mu.Lock()
	s, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.stopOnce.Do(func() { close(s.stopTick) })
	for _, seat := range s.seats {
		if seat != nil && seat.conn != nil {
			seat.conn.Kick("room closed")
			seat.conn = nil
			seat.connected = false
		}
	}
	s.mu.Unlock()
	obslog.L().Info("room retired", zap.String("code", code))
}

// Run sweeps idle and finished rooms until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.reap(now)
		}
	}
}

func (r *Registry) reap(now time.Time) {
	r.mu.Lock()
	var stale []string
	for code, s := range r.rooms {
		s.mu.Lock()
		idle := now.Sub(s.lastActive)
		noPeers := !s.seats[0].Connected() && !s.seats[1].Connected()
		finished := s.status == StatusFinished
		s.mu.Unlock()

		if (finished && noPeers) || idle > r.cfg.IdleTimeout {
			stale = append(stale, code)
		}
	}
	r.mu.Unlock()

	for _, code := range stale {
		obslog.L().Debug("reaping idle room", zap.String("code", code))
		r.Retire(code)
	}
}
