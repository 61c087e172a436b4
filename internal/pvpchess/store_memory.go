package pvpchess

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process; used when REDIS_URL is unset and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]*Game
	moves map[string][]Move
	users map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]*Game),
		moves: make(map[string][]Move),
		users: make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateGame(_ context.Context, g *Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("game %s already exists", g.ID)
	}
	g.Version = 1
	s.games[g.ID] = g.clone()
	return nil
}

func (s *MemoryStore) UpdateGame(_ context.Context, g *Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(g); err != nil {
		return err
	}
	g.Version++
	s.games[g.ID] = g.clone()
	return nil
}

func (s *MemoryStore) AppendMove(_ context.Context, g *Game, mv Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(g); err != nil {
		return err
	}
	if len(s.moves[g.ID]) != mv.Index {
		return ErrConflict
	}
	g.Version++
	s.games[g.ID] = g.clone()
	s.moves[g.ID] = append(s.moves[g.ID], mv)
	return nil
}

func (s *MemoryStore) checkVersion(g *Game) error {
	cur, ok := s.games[g.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != g.Version {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) FindGame(_ context.Context, id string) (*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, nil
	}
	return g.clone(), nil
}

func (s *MemoryStore) ListMoves(_ context.Context, id string) ([]Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Move(nil), s.moves[id]...), nil
}

func (s *MemoryStore) FindGamesByStatus(_ context.Context, status Status) ([]*Game, error) {
	return s.filter(func(g *Game) bool { return g.Status == status }), nil
}

func (s *MemoryStore) FindGamesByUserAndStatus(_ context.Context, username string, status Status) ([]*Game, error) {
	return s.filter(func(g *Game) bool {
		return g.Status == status && (g.WhiteUsername == username || g.BlackUsername == username)
	}), nil
}

func (s *MemoryStore) filter(keep func(*Game) bool) []*Game {
	s.mu.RLock()
	var out []*Game
	for _, g := range s.games {
		if keep(g) {
			out = append(out, g.clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

func (s *MemoryStore) RememberUser(_ context.Context, username string) error {
	s.mu.Lock()
	s.users[username] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UserExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

func sortNewestFirst(list []*Game) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
