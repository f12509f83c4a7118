package session

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/castlebay/liveroom/internal/msgcat"
	"github.com/castlebay/liveroom/internal/obslog"
	"github.com/castlebay/liveroom/internal/rules"
	"go.uber.org/zap"
)

const (
	clockTickInterval  = 100 * time.Millisecond
	clockBroadcastEach = time.Second
	chatHistoryLimit   = 200
	chatMaxLen         = 500
)

// Session is one room: two seats, a game, a clock and the chat log.
// All state is guarded by mu; peers only ever observe it through
// snapshots and events produced while the lock is held, so no peer can
// see a half-applied move or a clock that disagrees with the position.
type Session struct {
	mu sync.Mutex

	code       string
	gameID     string
	secretHash string
	tc         TimeControl

	seats [2]*Seat // 0 = white, 1 = black
	game  rules.Game
	clock *Clock

	status    Status
	drawOffer Color // color that offered, "" when none
	chat      []ChatEntry

	createdAt  time.Time
	startedAt  time.Time
	lastActive time.Time

	result     *FinalResult
	resultText string

	stopTick chan struct{}
	stopOnce sync.Once

	onFinish func(FinalResult)
	cat      *msgcat.Catalog
}

func (s *Session) Code() string { return s.code }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PasswordRequired reports whether joining needs a secret.
func (s *Session) PasswordRequired() bool { return s.secretHash != "" }

func (s *Session) seatFor(c Color) *Seat {
	if c == White {
		return s.seats[0]
	}
	return s.seats[1]
}

func (s *Session) seatByIdentityLocked(identity string) *Seat {
	for _, seat := range s.seats {
		if seat != nil && seat.Identity == identity {
			return seat
		}
	}
	return nil
}

// SubmitMove validates and applies a move from the given identity. On a
// rejected move no session state changes at all.
func (s *Session) SubmitMove(identity, move string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	if s.status != StatusActive {
		return ErrNotActive
	}
	if s.game.Turn() != string(seat.Color) {
		return ErrOutOfTurn
	}

	// Charge the mover for thinking time accrued since the last tick;
	// the increment must not mask it. The flag can fall right here.
	now := time.Now()
	if flag, loser := s.clock.Tick(now); flag {
		s.concludeLocked(string(loser.Other()), "timeout")
		return ErrNotActive
	}

	ap, err := s.game.Apply(move)
	if err != nil {
		return ErrIllegalMove
	}

	s.clock.ApplyIncrement(seat.Color, now)
	s.drawOffer = ""
	s.lastActive = now

	s.broadcastLocked(MoveApplied{
		Type:  "move-applied",
		UCI:   ap.UCI,
		SAN:   ap.SAN,
		FEN:   ap.FEN,
		Turn:  Color(ap.Turn),
		Check: ap.Check,
		Clock: s.clock.Snapshot(),
	})

	if ap.Terminal {
		s.concludeLocked(ap.Outcome, ap.Method)
	}
	return nil
}

// OfferDraw records a pending draw offer from identity's side. Only one
// offer may be pending at a time.
func (s *Session) OfferDraw(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	if s.status != StatusActive {
		return ErrNotActive
	}
	if s.drawOffer != "" {
		return ErrDrawAlreadyOffered
	}
	s.drawOffer = seat.Color
	s.lastActive = time.Now()
	s.sendToLocked(seat.Color.Other(), DrawOffered{
		Type:    "draw-offered",
		Message: s.cat.RenderOr("notice.draw_offered", nil, "Your opponent offers a draw."),
	})
	return nil
}

// AcceptDraw ends the game as a draw by agreement. Only the side that
// did not offer may accept.
func (s *Session) AcceptDraw(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	if s.status != StatusActive {
		return ErrNotActive
	}
	if s.drawOffer == "" || s.drawOffer == seat.Color {
		return ErrNoDrawOffer
	}
	s.drawOffer = ""
	s.concludeLocked("draw", "agreement")
	return nil
}

// DeclineDraw clears a pending offer and notifies the offerer.
func (s *Session) DeclineDraw(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	if s.drawOffer == "" || s.drawOffer == seat.Color {
		return ErrNoDrawOffer
	}
	offerer := s.drawOffer
	s.drawOffer = ""
	s.lastActive = time.Now()
	s.sendToLocked(offerer, DrawDeclined{
		Type:    "draw-declined",
		Message: s.cat.RenderOr("notice.draw_declined", nil, "Draw offer declined."),
	})
	return nil
}

// Resign ends the game in the opponent's favor.
func (s *Session) Resign(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	if s.status != StatusActive {
		return ErrNotActive
	}
	s.concludeLocked(string(seat.Color.Other()), "resignation")
	return nil
}

// Chat appends a line to the room log and relays it to both seats.
func (s *Session) Chat(identity, text string) error {
	if len(text) > chatMaxLen {
		cut := chatMaxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return ErrNotSeated
	}
	entry := ChatEntry{Sender: seat.Name, Text: text, At: time.Now()}
	s.chat = append(s.chat, entry)
	if len(s.chat) > chatHistoryLimit {
		s.chat = s.chat[len(s.chat)-chatHistoryLimit:]
	}
	s.lastActive = entry.At
	s.broadcastLocked(ChatMessage{Type: "chat", Sender: entry.Sender, Text: entry.Text})
	return nil
}

// Detach marks a seat disconnected. The seat itself survives so the
// same identity can reclaim it later; only the transport handle goes.
// A stale handle from an already-replaced connection is ignored.
func (s *Session) Detach(identity string, conn PeerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil || seat.conn != conn {
		return
	}
	seat.conn = nil
	seat.connected = false
	s.sendToLocked(seat.Color.Other(), Presence{
		Type:      "presence",
		Color:     seat.Color,
		Connected: false,
	})
}

// SetSeatRating backfills a rating looked up after the seat was taken.
func (s *Session) SetSeatRating(identity string, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seat := s.seatByIdentityLocked(identity); seat != nil {
		seat.Rating = rating
	}
}

// StateFor builds the full resync snapshot for one seated identity.
func (s *Session) StateFor(identity string) (StateSync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat := s.seatByIdentityLocked(identity)
	if seat == nil {
		return StateSync{}, ErrNotSeated
	}
	st := StateSync{
		Type:      "state-sync",
		Code:      s.code,
		Status:    s.status,
		You:       seat.Color,
		YourName:  seat.Name,
		FEN:       s.game.FEN(),
		MovesUCI:  s.game.MovesUCI(),
		MovesSAN:  s.game.MovesSAN(),
		Clock:     s.clock.Snapshot(),
		DrawOffer: s.drawOffer,
		Chat:      append([]ChatEntry(nil), s.chat...),
		Result:    s.resultText,
	}
	if opp := s.seatFor(seat.Color.Other()); opp != nil {
		st.OpponentName = opp.Name
		st.OpponentRating = opp.Rating
	}
	return st, nil
}

// attachLocked binds a transport handle to a seat and tells the other
// side the peer is present.
func (s *Session) attachLocked(seat *Seat, conn PeerConn) {
	if seat.conn != nil && seat.conn != conn {
		seat.conn.Kick("replaced by a newer connection")
	}
	seat.conn = conn
	seat.connected = true
	s.lastActive = time.Now()
	s.sendToLocked(seat.Color.Other(), Presence{
		Type:      "presence",
		Color:     seat.Color,
		Connected: true,
	})
}

// concludeLocked finishes the game and fans the result out. Safe to
// call from any termination path; only the first call does anything.
func (s *Session) concludeLocked(outcome, method string) {
	fr := s.finishLocked(outcome, method)
	if fr == nil {
		return
	}
	s.broadcastLocked(GameOver{Type: "game-over", Result: fr.Result})
	if s.onFinish != nil {
		go s.onFinish(*fr)
	}
}

// finishLocked transitions to finished and produces the FinalResult
// exactly once. Later calls return nil.
func (s *Session) finishLocked(outcome, method string) *FinalResult {
	if s.status == StatusFinished {
		return nil
	}
	s.status = StatusFinished
	s.stopOnce.Do(func() { close(s.stopTick) })

	s.resultText = s.renderResult(outcome, method)

	started := s.startedAt
	if started.IsZero() {
		started = s.createdAt
	}
	fr := &FinalResult{
		GameID:      s.gameID,
		Code:        s.code,
		Result:      s.resultText,
		Outcome:     outcome,
		Method:      method,
		TimeControl: s.tc.String(),
		MovesUCI:    s.game.MovesUCI(),
		MovesSAN:    s.game.MovesSAN(),
		StartedAt:   started,
		EndedAt:     time.Now(),
	}
	if w := s.seatFor(White); w != nil {
		fr.WhiteName, fr.WhiteRating = w.Name, w.Rating
	}
	if b := s.seatFor(Black); b != nil {
		fr.BlackName, fr.BlackRating = b.Name, b.Rating
	}
	s.result = fr

	obslog.L().Info("game finished",
		zap.String("code", s.code),
		zap.String("game_id", s.gameID),
		zap.String("outcome", outcome),
		zap.String("method", method),
		zap.Int("moves", len(fr.MovesUCI)))
	return fr
}

func (s *Session) renderResult(outcome, method string) string {
	var winner string
	switch outcome {
	case "white":
		winner = "White"
	case "black":
		winner = "Black"
	}
	fallback := "Draw!"
	if winner != "" {
		fallback = winner + " wins!"
	}
	return s.cat.RenderOr("result."+method, map[string]any{"Winner": winner}, fallback)
}

// runClock drives the countdown while the game is active. It exits when
// the session finishes or the flag falls.
func (s *Session) runClock() {
	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()

	lastBroadcast := time.Now()
	for {
		select {
		case <-s.stopTick:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			if s.status != StatusActive {
				s.mu.Unlock()
				return
			}
			flag, loser := s.clock.Tick(now)
			if flag {
				s.concludeLocked(string(loser.Other()), "timeout")
				s.mu.Unlock()
				return
			}
			if s.clock.Started() && now.Sub(lastBroadcast) >= clockBroadcastEach {
				lastBroadcast = now
				snap := s.clock.Snapshot()
				s.broadcastLocked(ClockUpdate{
					Type:    "clock-update",
					WhiteMs: snap.WhiteMs,
					BlackMs: snap.BlackMs,
					Active:  snap.Active,
				})
			}
			s.mu.Unlock()
		}
	}
}

// broadcastLocked delivers an event to both connected seats. A peer
// that cannot absorb the event is kicked rather than allowed to stall
// the session.
func (s *Session) broadcastLocked(ev any) {
	for _, seat := range s.seats {
		if seat == nil || seat.conn == nil {
			continue
		}
		if !seat.conn.Send(ev) {
			seat.conn.Kick("send queue full")
			seat.conn = nil
			seat.connected = false
		}
	}
}

func (s *Session) sendToLocked(c Color, ev any) {
	seat := s.seatFor(c)
	if seat == nil || seat.conn == nil {
		return
	}
	if !seat.conn.Send(ev) {
		seat.conn.Kick("send queue full")
		seat.conn = nil
		seat.connected = false
	}
}
