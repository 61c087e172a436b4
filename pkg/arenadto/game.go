package arenadto

// GameView is the read model returned by REST and used by clients to render a game.
type GameView struct {
	ID                    string     `json:"id"`
	WhiteUsername         string     `json:"whiteUsername"`
	BlackUsername         string     `json:"blackUsername"`
	Status                string     `json:"status"`
	WinnerUsername        string     `json:"winnerUsername,omitempty"`
	Outcome               string     `json:"outcome,omitempty"`
	Moves                 []MoveView `json:"moves"`
	FEN                   string     `json:"fen"`
	SideToMove            string     `json:"sideToMove"`
	WhiteRemainingSeconds int        `json:"whiteRemainingSeconds"`
	BlackRemainingSeconds int        `json:"blackRemainingSeconds"`
	TurnStartedAtEpochMs  *int64     `json:"turnStartedAtEpochMs,omitempty"`
}

// MoveView carries both the 0-based index used for submission and the
// 1-based move number shown to players.
type MoveView struct {
	Index      int     `json:"index"`
	MoveNumber int     `json:"moveNumber"`
	FromSquare string  `json:"fromSquare"`
	ToSquare   string  `json:"toSquare"`
	Piece      string  `json:"piece"`
	Promotion  *string `json:"promotion,omitempty"`
	SAN        string  `json:"san,omitempty"`
}
