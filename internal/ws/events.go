package ws

// ClientMessage is the single inbound envelope. Type selects the
// operation; unused fields stay empty.
type ClientMessage struct {
	Type string `json:"type"`

	// create / join
	Name        string `json:"name,omitempty"`
	Room        string `json:"room,omitempty"`
	Secret      string `json:"secret,omitempty"`
	Identity    string `json:"identity,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
	MemberID    string `json:"member_id,omitempty"`

	// move
	Move string `json:"move,omitempty"`

	// chat
	Text string `json:"text,omitempty"`
}

type ValidateResult struct {
	Type  string `json:"type"` // "validate-result"
	Room  string `json:"room"`
	Valid bool   `json:"valid"`
}

type VerifyResult struct {
	Type             string `json:"type"` // "verify-result"
	Room             string `json:"room"`
	Verified         bool   `json:"verified"`
	PasswordRequired bool   `json:"password_required"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}
