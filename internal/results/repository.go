package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository persists final game results in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record is the flattened row written for one finished game.
type Record struct {
	GameID      string
	Code        string
	WhiteName   string
	BlackName   string
	WhiteRating int
	BlackRating int
	TimeControl string
	Outcome     string // "white", "black" or "draw"
	Method      string
	MovesUCI    []string
	MovesSAN    []string
	StartedAt   time.Time
	EndedAt     time.Time
}

// SaveResult upserts a final result keyed by game id, so retried
// deliveries of the same result are harmless.
func (r *Repository) SaveResult(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	pgn := BuildPGN(rec)

	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO live_games (
        game_id, room_code, white_name, black_name,
        white_rating, black_rating, time_control,
        result, result_method, moves_uci, moves_san, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_id) DO UPDATE SET
        room_code=EXCLUDED.room_code,
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        white_rating=EXCLUDED.white_rating,
        black_rating=EXCLUDED.black_rating,
        time_control=EXCLUDED.time_control,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.GameID, rec.Code,
		rec.WhiteName, rec.BlackName,
		rec.WhiteRating, rec.BlackRating, rec.TimeControl,
		strings.TrimSpace(rec.Outcome), strings.TrimSpace(rec.Method),
		string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the record as portable game notation.
func BuildPGN(rec *Record) string {
	if rec == nil {
		return ""
	}
	pgnResult := mapResultToPGN(rec.Outcome)
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Live Room\"]\n")
	b.WriteString("[Site \"liveroom\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(rec.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(rec.BlackName)))
	if rec.WhiteRating > 0 {
		b.WriteString(fmt.Sprintf("[WhiteElo \"%d\"]\n", rec.WhiteRating))
	}
	if rec.BlackRating > 0 {
		b.WriteString(fmt.Sprintf("[BlackElo \"%d\"]\n", rec.BlackRating))
	}
	if strings.TrimSpace(rec.TimeControl) != "" && rec.TimeControl != "none" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(rec.TimeControl)))
	}
	if strings.TrimSpace(rec.Method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	if pgnResult != "" {
		b.WriteString(pgnResult)
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
