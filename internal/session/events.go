package session

// Events sent to peers. Every payload carries a "type" discriminator so
// browser clients can switch on it.

type RoomCreated struct {
	Type             string `json:"type"` // "room-created"
	Code             string `json:"code"`
	Identity         string `json:"identity"`
	Color            Color  `json:"color"`
	TimeControl      string `json:"time_control"`
	PasswordRequired bool   `json:"password_required"`
}

type Joined struct {
	Type           string `json:"type"` // "joined"
	Code           string `json:"code"`
	Identity       string `json:"identity"`
	Color          Color  `json:"color"`
	OpponentName   string `json:"opponent_name,omitempty"`
	OpponentRating int    `json:"opponent_rating,omitempty"`
	Rejoined       bool   `json:"rejoined,omitempty"`
}

type OpponentJoined struct {
	Type   string `json:"type"` // "opponent-joined"
	Name   string `json:"name"`
	Color  Color  `json:"color"`
	Rating int    `json:"rating,omitempty"`
}

type MoveApplied struct {
	Type  string        `json:"type"` // "move-applied"
	UCI   string        `json:"uci"`
	SAN   string        `json:"san"`
	FEN   string        `json:"fen"`
	Turn  Color         `json:"turn"`
	Check bool          `json:"check,omitempty"`
	Clock ClockSnapshot `json:"clock"`
}

type ClockUpdate struct {
	Type    string `json:"type"` // "clock-update"
	WhiteMs int64  `json:"white_ms"`
	BlackMs int64  `json:"black_ms"`
	Active  Color  `json:"active"`
}

type GameOver struct {
	Type   string `json:"type"` // "game-over"
	Result string `json:"result"`
}

type DrawOffered struct {
	Type    string `json:"type"` // "draw-offered"
	Message string `json:"message,omitempty"`
}

type DrawDeclined struct {
	Type    string `json:"type"` // "draw-declined"
	Message string `json:"message,omitempty"`
}

type ChatMessage struct {
	Type   string `json:"type"` // "chat"
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Presence struct {
	Type      string `json:"type"` // "presence"
	Color     Color  `json:"color"`
	Connected bool   `json:"connected"`
}

// StateSync replays everything a reconnecting peer needs to resume
// exactly where it left off.
type StateSync struct {
	Type           string        `json:"type"` // "state-sync"
	Code           string        `json:"code"`
	Status         Status        `json:"status"`
	You            Color         `json:"you"`
	YourName       string        `json:"your_name"`
	OpponentName   string        `json:"opponent_name,omitempty"`
	OpponentRating int           `json:"opponent_rating,omitempty"`
	FEN            string        `json:"fen"`
	MovesUCI       []string      `json:"moves_uci"`
	MovesSAN       []string      `json:"moves_san"`
	Clock          ClockSnapshot `json:"clock"`
	DrawOffer      Color         `json:"draw_offer,omitempty"`
	Chat           []ChatEntry   `json:"chat,omitempty"`
	Result         string        `json:"result,omitempty"`
}
