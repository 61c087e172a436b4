// Package movecheck validates moves against a position rebuilt from UCI history.
package movecheck

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegal    = errors.New("illegal move")
	ErrBadSquare  = errors.New("malformed square")
	ErrBadHistory = errors.New("history does not replay")
)

// Candidate is a move as submitted by a client.
type Candidate struct {
	From      string
	To        string
	Promotion string
}

// Verdict describes an accepted move.
type Verdict struct {
	UCI       string
	SAN       string
	Checkmate bool
	Stalemate bool
}

// Engine is stateless; every call replays the given history.
type Engine struct{}

func New() Engine { return Engine{} }

// Check replays history and tries to play c for the side to move.
func (Engine) Check(history []string, c Candidate) (Verdict, error) {
	uci, err := toUCI(c)
	if err != nil {
		return Verdict{}, err
	}
	game, err := replay(history)
	if err != nil {
		return Verdict{}, err
	}
	before := game.Position()
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Verdict{}, fmt.Errorf("%w: %s", ErrIllegal, uci)
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return Verdict{}, fmt.Errorf("%w: %s", ErrIllegal, uci)
	}
	last := moves[len(moves)-1]
	v := Verdict{
		UCI: uci,
		SAN: nchess.AlgebraicNotation{}.Encode(before, last),
	}
	switch game.Method() {
	case nchess.Checkmate:
		v.Checkmate = true
	case nchess.Stalemate:
		v.Stalemate = true
	}
	return v, nil
}

// FEN returns the position after history.
func (Engine) FEN(history []string) (string, error) {
	game, err := replay(history)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

func replay(history []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w at ply %d: %v", ErrBadHistory, i, err)
		}
	}
	return game, nil
}

func toUCI(c Candidate) (string, error) {
	from := strings.ToLower(strings.TrimSpace(c.From))
	to := strings.ToLower(strings.TrimSpace(c.To))
	if !validSquare(from) || !validSquare(to) {
		return "", fmt.Errorf("%w: %q-%q", ErrBadSquare, c.From, c.To)
	}
	uci := from + to
	if p := strings.ToLower(strings.TrimSpace(c.Promotion)); p != "" {
		switch p {
		case "q", "r", "b", "n":
			uci += p
		default:
			return "", fmt.Errorf("%w: promotion %q", ErrIllegal, c.Promotion)
		}
	}
	return uci, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
