package pvpchess

import (
	"time"
)

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents a game lifecycle state. ACTIVE → FINISHED happens once.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Outcome records why a game finished.
type Outcome string

const (
	OutcomeTimeout   Outcome = "timeout"
	OutcomeResign    Outcome = "resign"
	OutcomeCheckmate Outcome = "checkmate"
)

// Game is the persisted state of a match. Moves are stored separately.
type Game struct {
	ID                    string     `json:"id"`
	WhiteUsername         string     `json:"white_username"`
	BlackUsername         string     `json:"black_username"`
	Status                Status     `json:"status"`
	WinnerUsername        string     `json:"winner_username,omitempty"`
	Outcome               Outcome    `json:"outcome,omitempty"`
	WhiteRemainingSeconds int        `json:"white_remaining_seconds"`
	BlackRemainingSeconds int        `json:"black_remaining_seconds"`
	TurnStartedAt         *time.Time `json:"turn_started_at,omitempty"`
	MoveCount             int        `json:"move_count"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SideToMove is parity-determined: even move count means white.
func (g *Game) SideToMove() Color {
	if g.MoveCount%2 == 0 {
		return White
	}
	return Black
}

// ColorOf returns the side username plays, or "" for outsiders.
func (g *Game) ColorOf(username string) Color {
	switch username {
	case g.WhiteUsername:
		return White
	case g.BlackUsername:
		return Black
	}
	return ""
}

func (g *Game) PlayerFor(c Color) string {
	if c == White {
		return g.WhiteUsername
	}
	return g.BlackUsername
}

func (g *Game) clone() *Game {
	cp := *g
	if g.TurnStartedAt != nil {
		t := *g.TurnStartedAt
		cp.TurnStartedAt = &t
	}
	return &cp
}

// Move is one recorded ply. Index is 0-based and contiguous.
type Move struct {
	Index     int       `json:"index"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Promotion *string   `json:"promotion,omitempty"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san,omitempty"`
	PlayedAt  time.Time `json:"played_at"`
}

// MoveRequest is a submission from a player.
type MoveRequest struct {
	GameID        string
	Username      string
	ExpectedIndex int
	From          string
	To            string
	Piece         string
	Promotion     *string
}
