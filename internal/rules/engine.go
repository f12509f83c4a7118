package rules

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned for moves that do not parse or are not legal
// in the current position.
var ErrIllegalMove = errors.New("illegal move")

// Engine hands out fresh games. It is the only chess-aware seam of the
// coordinator; everything above treats it as a black box.
type Engine interface {
	NewGame() Game
}

// Game is one live position plus its move list.
type Game interface {
	// Apply validates and applies a move given in UCI or SAN notation.
	Apply(move string) (*Applied, error)
	// Turn returns the side to move, "white" or "black".
	Turn() string
	FEN() string
	MovesUCI() []string
	MovesSAN() []string
}

// Applied describes an accepted move and the position it produced.
type Applied struct {
	UCI string
	SAN string
	FEN string
	// Turn is the side to move after this move.
	Turn string
	// Check is true when the move gives check (or mate).
	Check bool
	// Terminal is true when the game ended with this move.
	Terminal bool
	// Outcome is "white", "black" or "draw" when Terminal.
	Outcome string
	// Method is the snake_case termination reason when Terminal,
	// e.g. "checkmate", "stalemate", "insufficient_material".
	Method string
}

type engine struct{}

// NewEngine returns the default engine backed by corentings/chess.
func NewEngine() Engine { return engine{} }

func (engine) NewGame() Game {
	return &liveGame{g: nchess.NewGame()}
}

type liveGame struct {
	g        *nchess.Game
	movesUCI []string
	movesSAN []string
}

func (lg *liveGame) Apply(move string) (*Applied, error) {
	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, ErrIllegalMove
	}

	notationUCI := nchess.UCINotation{}
	notationSAN := nchess.AlgebraicNotation{}
	pos := lg.g.Position()

	mv, err := notationUCI.Decode(pos, strings.ToLower(raw))
	if err != nil {
		mv, err = notationSAN.Decode(pos, raw)
		if err != nil {
			return nil, ErrIllegalMove
		}
	}
	if err := lg.g.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	san := notationSAN.Encode(pos, mv)
	uci := strings.ToLower(notationUCI.Encode(pos, mv))
	lg.movesUCI = append(lg.movesUCI, uci)
	lg.movesSAN = append(lg.movesSAN, san)

	ap := &Applied{
		UCI:   uci,
		SAN:   san,
		FEN:   lg.g.FEN(),
		Turn:  colorName(lg.g.Position().Turn()),
		Check: strings.ContainsAny(san, "+#"),
	}
	switch lg.g.Outcome() {
	case nchess.WhiteWon:
		ap.Terminal, ap.Outcome = true, "white"
	case nchess.BlackWon:
		ap.Terminal, ap.Outcome = true, "black"
	case nchess.Draw:
		ap.Terminal, ap.Outcome = true, "draw"
	}
	if ap.Terminal {
		ap.Method = methodKey(lg.g.Method().String())
	}
	return ap, nil
}

func (lg *liveGame) Turn() string { return colorName(lg.g.Position().Turn()) }

func (lg *liveGame) FEN() string { return lg.g.FEN() }

func (lg *liveGame) MovesUCI() []string {
	out := make([]string, len(lg.movesUCI))
	copy(out, lg.movesUCI)
	return out
}

func (lg *liveGame) MovesSAN() []string {
	out := make([]string, len(lg.movesSAN))
	copy(out, lg.movesSAN)
	return out
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

// methodKey converts the library's CamelCase method name into the
// snake_case key used by the message catalog.
func methodKey(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
