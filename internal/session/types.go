package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Color identifies a side of the board. Seat "first" is always white,
// seat "second" always black; assignments never change for the lifetime
// of a session.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the session lifecycle state. Finished is terminal.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room full")
	ErrAccessDenied       = errors.New("access denied")
	ErrIllegalMove        = errors.New("illegal move")
	ErrOutOfTurn          = errors.New("out of turn")
	ErrNotActive          = errors.New("game not active")
	ErrNotSeated          = errors.New("peer not seated in room")
	ErrDrawAlreadyOffered = errors.New("draw offer already pending")
	ErrNoDrawOffer        = errors.New("no draw offer pending")
	ErrCodeSpace          = errors.New("room code space exhausted")
)

// PeerConn is the transport handle of one seat. Send must never block;
// it reports false when the peer cannot keep up. Kick tears down the
// underlying connection.
type PeerConn interface {
	Send(event any) bool
	Kick(reason string)
}

// Seat is one of the two fixed color slots of a session.
type Seat struct {
	Color    Color
	Identity string
	Name     string
	Rating   int

	conn      PeerConn
	connected bool
}

func (s *Seat) Connected() bool { return s != nil && s.connected }

// ChatEntry is one line of the append-only room chat.
type ChatEntry struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// TimeControl is the parsed form of a "minutes+increment" string such
// as "3+2". "none" disables the clock entirely.
type TimeControl struct {
	Initial   time.Duration
	Increment time.Duration
	Enabled   bool
	label     string
}

func (tc TimeControl) String() string { return tc.label }

// ParseTimeControl parses "M+S" (minutes plus increment seconds), a
// bare "M", or "none".
func ParseTimeControl(s string) (TimeControl, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" || v == "none" {
		return TimeControl{label: "none"}, nil
	}
	minutes := v
	seconds := "0"
	if i := strings.IndexByte(v, '+'); i >= 0 {
		minutes, seconds = v[:i], v[i+1:]
	}
	m, err := strconv.Atoi(strings.TrimSpace(minutes))
	if err != nil || m <= 0 {
		return TimeControl{}, fmt.Errorf("invalid time control %q", s)
	}
	inc, err := strconv.Atoi(strings.TrimSpace(seconds))
	if err != nil || inc < 0 {
		return TimeControl{}, fmt.Errorf("invalid time control %q", s)
	}
	return TimeControl{
		Initial:   time.Duration(m) * time.Minute,
		Increment: time.Duration(inc) * time.Second,
		Enabled:   true,
		label:     fmt.Sprintf("%d+%d", m, inc),
	}, nil
}

// FinalResult is handed to the result sink exactly once per game.
type FinalResult struct {
	GameID      string
	Code        string
	Result      string // user-visible result text
	Outcome     string // "white", "black" or "draw"
	Method      string
	WhiteName   string
	BlackName   string
	WhiteRating int
	BlackRating int
	TimeControl string
	MovesUCI    []string
	MovesSAN    []string
	StartedAt   time.Time
	EndedAt     time.Time
}
