package model

// TokenEvent represents a streaming fragment event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// TurnCompleteEvent represents a finalized assistant turn.
type TurnCompleteEvent struct {
	Turn     Turn   `json:"turn"`
	Sequence uint64 `json:"sequence"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
