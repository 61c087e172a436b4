// Package invite keeps the pending game invitation of each recipient.
package invite

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrAlreadyPending = errors.New("recipient already has a pending invitation")
	ErrNoPending      = errors.New("no pending invitation for recipient")
	ErrSenderMismatch = errors.New("pending invitation is from another user")
	ErrAlreadyClaimed = errors.New("invitation is already being accepted")
)

// Registry holds at most one live invitation per recipient.
type Registry struct {
	mu   sync.Mutex
	byTo map[string]*Invitation
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{byTo: make(map[string]*Invitation), now: time.Now}
}

// WithClock replaces the time source; for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Create(from, to string) (Invitation, error) {
	if from == "" || to == "" {
		return Invitation{}, ErrInvalidArgs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTo[to]; ok {
		return Invitation{}, ErrAlreadyPending
	}
	inv := &Invitation{FromUsername: from, ToUsername: to, CreatedAt: r.now(), Status: StatusPending}
	r.byTo[to] = inv
	return *inv, nil
}

// PendingFor returns the live invitation addressed to to, if any.
func (r *Registry) PendingFor(to string) (Invitation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byTo[to]
	if !ok {
		return Invitation{}, false
	}
	return *inv, true
}

// Claim reserves the invitation for acceptance. Only one caller can hold a claim,
// so a double accept creates one game.
func (r *Registry) Claim(to, from string) (Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byTo[to]
	if !ok {
		return Invitation{}, ErrNoPending
	}
	if !strings.EqualFold(inv.FromUsername, from) {
		return Invitation{}, ErrSenderMismatch
	}
	if inv.Status != StatusPending {
		return Invitation{}, ErrAlreadyClaimed
	}
	inv.Status = StatusClaimed
	return *inv, nil
}

// Release returns a claimed invitation to pending, e.g. after game creation failed.
func (r *Registry) Release(to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.byTo[to]; ok && inv.Status == StatusClaimed {
		inv.Status = StatusPending
	}
}

// Accept marks the invitation accepted and stamps the game id. No-op when absent.
func (r *Registry) Accept(to, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.byTo[to]; ok {
		inv.Status = StatusAccepted
		inv.GameID = gameID
	}
}

// Decline removes the invitation and returns it marked declined.
func (r *Registry) Decline(to string) (Invitation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byTo[to]
	if !ok {
		return Invitation{}, false
	}
	delete(r.byTo, to)
	inv.Status = StatusDeclined
	return *inv, true
}

// DeclineFrom declines only when the pending invitation was sent by from
// (case-insensitive) and is not being accepted.
func (r *Registry) DeclineFrom(to, from string) (Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byTo[to]
	if !ok {
		return Invitation{}, ErrNoPending
	}
	if !strings.EqualFold(inv.FromUsername, from) {
		return Invitation{}, ErrSenderMismatch
	}
	if inv.Status == StatusClaimed {
		return Invitation{}, ErrAlreadyClaimed
	}
	delete(r.byTo, to)
	inv.Status = StatusDeclined
	return *inv, nil
}

// Remove deletes the invitation for to unconditionally.
func (r *Registry) Remove(to string) {
	r.mu.Lock()
	delete(r.byTo, to)
	r.mu.Unlock()
}

// Expire removes pending invitations created at or before cutoff and returns them.
// Claimed invitations are left alone.
func (r *Registry) Expire(cutoff time.Time) []Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invitation
	for to, inv := range r.byTo {
		if inv.Status == StatusPending && !inv.CreatedAt.After(cutoff) {
			delete(r.byTo, to)
			out = append(out, *inv)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTo)
}
