package domain

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message exchanged with the model, tagged with its speaker.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is the ordered turn sequence stored for one history key.
type History []Turn

// Append returns a copy of h with t added at the end. The receiver is never
// mutated so callers can keep the loaded value around for logging.
func (h History) Append(t ...Turn) History {
	out := make(History, 0, len(h)+len(t))
	out = append(out, h...)
	return append(out, t...)
}

// Latest returns the newest n turns of h, or all of h when n <= 0.
func (h History) Latest(n int) History {
	if n <= 0 || n >= len(h) {
		return h
	}
	return h[len(h)-n:]
}

// UserTurn and ModelTurn are shorthands for building turns.
func UserTurn(text string) Turn  { return Turn{Role: RoleUser, Text: text} }
func ModelTurn(text string) Turn { return Turn{Role: RoleModel, Text: text} }
