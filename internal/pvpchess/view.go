package pvpchess

import (
	"fmt"

	"github.com/park285/cheese-arena/pkg/arenadto"
)

func (s *Service) view(g *Game, moves []Move) (arenadto.GameView, error) {
	history := make([]string, len(moves))
	views := make([]arenadto.MoveView, len(moves))
	for i, m := range moves {
		history[i] = m.UCI
		views[i] = toMoveView(m)
	}
	fen, err := s.rules.FEN(history)
	if err != nil {
		return arenadto.GameView{}, fmt.Errorf("game %s: %w", g.ID, err)
	}
	clock := ProjectClock(g, s.now())
	v := arenadto.GameView{
		ID:                    g.ID,
		WhiteUsername:         g.WhiteUsername,
		BlackUsername:         g.BlackUsername,
		Status:                string(g.Status),
		WinnerUsername:        g.WinnerUsername,
		Outcome:               string(g.Outcome),
		Moves:                 views,
		FEN:                   fen,
		SideToMove:            string(clock.SideToMove),
		WhiteRemainingSeconds: clock.WhiteRemainingSeconds,
		BlackRemainingSeconds: clock.BlackRemainingSeconds,
	}
	if g.TurnStartedAt != nil {
		ms := g.TurnStartedAt.UnixMilli()
		v.TurnStartedAtEpochMs = &ms
	}
	return v, nil
}

// toMoveView numbers moves from 1 on the wire; Index stays 0-based.
func toMoveView(m Move) arenadto.MoveView {
	return arenadto.MoveView{
		Index:      m.Index,
		MoveNumber: m.Index + 1,
		FromSquare: m.From,
		ToSquare:   m.To,
		Piece:      m.Piece,
		Promotion:  m.Promotion,
		SAN:        m.SAN,
	}
}
