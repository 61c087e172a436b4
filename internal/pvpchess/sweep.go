package pvpchess

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// SweepReport summarises one pass.
type SweepReport struct {
	Scanned  int
	Finished []string
	Failed   int
}

// SweepExpired finishes every ACTIVE game whose side to move has run out of time.
// A failing game is logged and skipped; the pass continues.
func (s *Service) SweepExpired(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	active, err := s.store.FindGamesByStatus(ctx, StatusActive)
	if err != nil {
		return rep, fmt.Errorf("list active games: %w", err)
	}
	for _, g := range active {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Scanned++
		done, err := s.sweepOne(ctx, g.ID)
		if err != nil {
			rep.Failed++
			obslog.L().Error("sweep_game_error", zap.String("game_id", g.ID), zap.Error(err))
			continue
		}
		if done {
			rep.Finished = append(rep.Finished, g.ID)
		}
	}
	return rep, nil
}

func (s *Service) sweepOne(ctx context.Context, id string) (finished bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	unlock := s.locks.lock(id)
	defer unlock()

	g, err := s.store.FindGame(ctx, id)
	if err != nil {
		return false, err
	}
	// another path finished it since the listing
	if g == nil || g.Status != StatusActive {
		return false, nil
	}
	now := s.now()
	rem, ok := remainingForMover(g, now)
	if !ok || rem > 0 {
		return false, nil
	}
	next := g.clone()
	expireMover(next, now)
	if err := s.store.UpdateGame(ctx, next); err != nil {
		return false, err
	}
	obslog.L().Info("sweep_finish",
		zap.String("game_id", id),
		zap.String("winner", next.WinnerUsername),
		zap.String("loser_side", string(g.SideToMove())),
	)
	s.finished(ctx, next)
	return true, nil
}
