package models

import "time"

type Side int

const (
	SideA Side = iota + 1
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	}

	return "unknown"
}

type Match struct {
	ID       string `json:"match_id"`
	RequestA string `json:"request_a"`
	RequestB string `json:"request_b"`
	CodeHash string `json:"-"`

	// SealedCode is the code encrypted for redelivery to the two sessions.
	SealedCode string    `json:"-"`
	VerifiedA  bool      `json:"verified_a"`
	VerifiedB  bool      `json:"verified_b"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *Match) SideOf(requestID string) (Side, bool) {
	switch {
	case requestID == "":
		return 0, false
	case requestID == m.RequestA:
		return SideA, true
	case requestID == m.RequestB:
		return SideB, true
	}

	return 0, false
}

func (m *Match) Verified(side Side) bool {
	switch side {
	case SideA:
		return m.VerifiedA
	case SideB:
		return m.VerifiedB
	}

	return false
}

func (m *Match) BothVerified() bool {
	return m.VerifiedA && m.VerifiedB
}

// MatchFound is pushed to the session that owns RequestID once its request is
// reserved into a match.
type MatchFound struct {
	MatchID   string `json:"matchId"`
	RequestID string `json:"requestId"`
	OTP       string `json:"otp,omitempty"`
}
