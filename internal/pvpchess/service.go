// Package pvpchess runs timed two-player games: creation, move submission,
// resignation, clock projection and the expiry sweep.
package pvpchess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/movecheck"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const DefaultClockSeconds = 600

type Options struct {
	InitialClockSeconds int
	Now                 func() time.Time
	NewID               func() string
}

type Service struct {
	store   Store
	users   UserDirectory
	rules   Rules
	pub     Publisher
	archive Archive

	clock int
	now   func() time.Time
	newID func() string
	locks gameLocks
}

func NewService(store Store, users UserDirectory, rules Rules, opts Options) *Service {
	s := &Service{
		store: store,
		users: users,
		rules: rules,
		pub:   nopPublisher{},
		clock: opts.InitialClockSeconds,
		now:   opts.Now,
		newID: opts.NewID,
	}
	if s.clock <= 0 {
		s.clock = DefaultClockSeconds
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// AttachPublisher wires the event sink for MOVE and GAME_OVER.
func (s *Service) AttachPublisher(p Publisher) {
	if p != nil {
		s.pub = p
	}
}

// AttachArchive wires a repository for finished games.
func (s *Service) AttachArchive(a Archive) { s.archive = a }

// CreateGame starts an ACTIVE game with both clocks at the initial budget.
func (s *Service) CreateGame(ctx context.Context, white, black string) (*Game, error) {
	white, black = strings.TrimSpace(white), strings.TrimSpace(black)
	if white == "" || black == "" || white == black {
		return nil, ErrInvalidArgs
	}
	for _, u := range []string{white, black} {
		ok, err := s.users.UserExists(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", u, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, u)
		}
	}
	now := s.now()
	g := &Game{
		ID:                    s.newID(),
		WhiteUsername:         white,
		BlackUsername:         black,
		Status:                StatusActive,
		WhiteRemainingSeconds: s.clock,
		BlackRemainingSeconds: s.clock,
		TurnStartedAt:         &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("white", white),
		zap.String("black", black),
		zap.Int("clock_seconds", s.clock),
	)
	return g, nil
}

// SubmitMove validates and records one move. Checks run in a fixed order:
// game state, sequence, clock, legality.
func (s *Service) SubmitMove(ctx context.Context, req MoveRequest) (*Move, error) {
	unlock := s.locks.lock(req.GameID)
	defer unlock()

	g, err := s.activeGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	color := g.ColorOf(req.Username)
	if color == "" {
		return nil, ErrNotParticipant
	}
	if req.ExpectedIndex != g.MoveCount {
		return nil, &SequenceError{Expected: g.MoveCount, Got: req.ExpectedIndex}
	}

	now := s.now()
	next := g.clone()
	if err := chargeMover(next, now); err != nil {
		obslog.L().Info("move_time_expired",
			zap.String("game_id", g.ID),
			zap.String("user", req.Username),
		)
		return nil, err
	}
	if color != g.SideToMove() {
		return nil, fmt.Errorf("%w: not %s's turn", ErrIllegalMove, req.Username)
	}

	history, err := s.history(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if len(history) != g.MoveCount {
		return nil, fmt.Errorf("game %s: %d moves stored, count says %d", g.ID, len(history), g.MoveCount)
	}
	promo := ""
	if req.Promotion != nil {
		promo = *req.Promotion
	}
	verdict, err := s.rules.Check(history, movecheck.Candidate{From: req.From, To: req.To, Promotion: promo})
	if err != nil {
		if errors.Is(err, movecheck.ErrIllegal) || errors.Is(err, movecheck.ErrBadSquare) {
			return nil, fmt.Errorf("%w: %s-%s", ErrIllegalMove, req.From, req.To)
		}
		return nil, err
	}

	piece := strings.TrimSpace(req.Piece)
	if piece == "" {
		piece = "P"
	}
	mv := Move{
		Index:     g.MoveCount,
		From:      strings.ToLower(strings.TrimSpace(req.From)),
		To:        strings.ToLower(strings.TrimSpace(req.To)),
		Piece:     piece,
		Promotion: req.Promotion,
		UCI:       verdict.UCI,
		SAN:       verdict.SAN,
		PlayedAt:  now,
	}
	next.MoveCount++
	next.UpdatedAt = now
	if verdict.Checkmate {
		next.Status = StatusFinished
		next.WinnerUsername = req.Username
		next.Outcome = OutcomeCheckmate
	}
	if err := s.store.AppendMove(ctx, next, mv); err != nil {
		return nil, fmt.Errorf("append move: %w", err)
	}

	obslog.L().Info("move_commit",
		zap.String("game_id", g.ID),
		zap.String("user", req.Username),
		zap.Int("index", mv.Index),
		zap.String("uci", mv.UCI),
		zap.Int("white_remaining", next.WhiteRemainingSeconds),
		zap.Int("black_remaining", next.BlackRemainingSeconds),
	)
	s.pub.PublishTopic(ctx, arenadto.GameTopic(g.ID), arenadto.EventMove, arenadto.MoveEvent{
		Type: arenadto.EventMove,
		Move: toMoveView(mv),
	})
	if next.Status == StatusFinished {
		s.finished(ctx, next)
	}
	return &mv, nil
}

// Resign finishes the game in favour of the opponent. The clock is not consulted.
func (s *Service) Resign(ctx context.Context, gameID, username string) (*Game, error) {
	unlock := s.locks.lock(gameID)
	defer unlock()

	g, err := s.activeGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	color := g.ColorOf(username)
	if color == "" {
		return nil, ErrNotParticipant
	}
	now := s.now()
	next := g.clone()
	next.Status = StatusFinished
	next.WinnerUsername = g.PlayerFor(color.Opponent())
	next.Outcome = OutcomeResign
	next.UpdatedAt = now
	if err := s.store.UpdateGame(ctx, next); err != nil {
		return nil, fmt.Errorf("resign: %w", err)
	}
	obslog.L().Info("game_resign", zap.String("game_id", gameID), zap.String("user", username))
	s.finished(ctx, next)
	return next, nil
}

// GetGame projects any game, finished or not. The viewer need not play in it.
func (s *Service) GetGame(ctx context.Context, gameID, viewer string) (arenadto.GameView, error) {
	g, err := s.store.FindGame(ctx, gameID)
	if err != nil {
		return arenadto.GameView{}, err
	}
	if g == nil {
		return arenadto.GameView{}, ErrNotFound
	}
	if g.ColorOf(viewer) == "" {
		obslog.L().Debug("game_spectate", zap.String("game_id", gameID), zap.String("viewer", viewer))
	}
	moves, err := s.store.ListMoves(ctx, gameID)
	if err != nil {
		return arenadto.GameView{}, err
	}
	return s.view(g, moves)
}

// ActiveGamesFor lists the user's ACTIVE games, newest first.
func (s *Service) ActiveGamesFor(ctx context.Context, username string) ([]arenadto.GameView, error) {
	return s.viewsFor(ctx, username, StatusActive)
}

// FinishedGamesFor lists the user's FINISHED games, newest first.
func (s *Service) FinishedGamesFor(ctx context.Context, username string) ([]arenadto.GameView, error) {
	return s.viewsFor(ctx, username, StatusFinished)
}

func (s *Service) viewsFor(ctx context.Context, username string, st Status) ([]arenadto.GameView, error) {
	games, err := s.store.FindGamesByUserAndStatus(ctx, username, st)
	if err != nil {
		return nil, err
	}
	out := make([]arenadto.GameView, 0, len(games))
	for _, g := range games {
		moves, err := s.store.ListMoves(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		v, err := s.view(g, moves)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) activeGame(ctx context.Context, id string) (*Game, error) {
	g, err := s.store.FindGame(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != StatusActive {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *Service) history(ctx context.Context, id string) ([]string, error) {
	moves, err := s.store.ListMoves(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = m.UCI
	}
	return out, nil
}

// finished publishes GAME_OVER and archives the result.
func (s *Service) finished(ctx context.Context, g *Game) {
	obslog.L().Info("game_over",
		zap.String("game_id", g.ID),
		zap.String("winner", g.WinnerUsername),
		zap.String("outcome", string(g.Outcome)),
	)
	s.pub.PublishTopic(ctx, arenadto.GameTopic(g.ID), arenadto.EventGameOver, arenadto.GameOverEvent{
		Type:           arenadto.EventGameOver,
		WinnerUsername: g.WinnerUsername,
		Reason:         string(g.Outcome),
	})
	if s.archive == nil {
		return
	}
	// 요청이 끊겨도 기록은 남아야 한다
	actx := context.WithoutCancel(ctx)
	moves, err := s.store.ListMoves(actx, g.ID)
	if err == nil {
		err = s.archive.SaveResult(actx, g, moves)
	}
	if err != nil {
		obslog.L().Error("game_archive_error", zap.String("game_id", g.ID), zap.Error(err))
	}
}
