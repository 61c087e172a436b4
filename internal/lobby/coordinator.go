// Package lobby handles real-time player actions: presence, invitations and
// the game actions that arrive over the socket.
package lobby

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/invite"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Publisher is the outbound transport.
type Publisher interface {
	PublishTopic(ctx context.Context, topic, eventType string, payload any)
	PublishUser(ctx context.Context, username, queue, eventType string, payload any)
}

// Games is the subset of the game service the lobby drives.
type Games interface {
	CreateGame(ctx context.Context, white, black string) (*pvpchess.Game, error)
	SubmitMove(ctx context.Context, req pvpchess.MoveRequest) (*pvpchess.Move, error)
	Resign(ctx context.Context, gameID, username string) (*pvpchess.Game, error)
}

type Coordinator struct {
	presence *presence.Registry
	invites  *invite.Registry
	games    Games
	users    pvpchess.UserDirectory
	pub      Publisher
	cat      *msgcat.Catalog

	invitationTTL time.Duration
	now           func() time.Time
}

type Options struct {
	// InvitationTTL of zero keeps invitations until answered.
	InvitationTTL time.Duration
	Now           func() time.Time
}

func NewCoordinator(p *presence.Registry, inv *invite.Registry, games Games, users pvpchess.UserDirectory,
	pub Publisher, cat *msgcat.Catalog, opts Options) *Coordinator {
	c := &Coordinator{
		presence:      p,
		invites:       inv,
		games:         games,
		users:         users,
		pub:           pub,
		cat:           cat,
		invitationTTL: opts.InvitationTTL,
		now:           opts.Now,
	}
	if c.cat == nil {
		c.cat = msgcat.MustDefault()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Coordinator) Presence() *presence.Registry { return c.presence }

// ConnectedUsers lists lobby members, sorted.
func (c *Coordinator) ConnectedUsers() []string { return c.presence.ListConnected() }

// JoinLobby registers the connection, broadcasts the lobby and sends the
// joiner its own copy so a missed broadcast does not leave it empty.
func (c *Coordinator) JoinLobby(ctx context.Context, connID, username string) error {
	if username == "" {
		return ErrUnauthenticated
	}
	if err := c.users.RememberUser(ctx, username); err != nil {
		return err
	}
	c.presence.Register(connID, username)
	obslog.L().Info("lobby_join", zap.String("user", username), zap.String("conn_id", connID))
	c.BroadcastPresence(ctx)
	c.pub.PublishUser(ctx, username, arenadto.QueueLobbyUsers, arenadto.EventLobby, c.lobbyUsers())
	return nil
}

// Disconnect drops connID and broadcasts when a user actually went offline.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	if u := c.presence.Unregister(connID); u != "" {
		obslog.L().Info("lobby_leave", zap.String("user", u), zap.String("conn_id", connID))
		c.BroadcastPresence(ctx)
	}
}

// Invite sends an invitation from from to the connected user named to.
func (c *Coordinator) Invite(ctx context.Context, from, to string) (invite.Invitation, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return invite.Invitation{}, ErrBadRequest
	}
	if strings.EqualFold(from, to) {
		return invite.Invitation{}, ErrSelfInvite
	}
	// 로비에 들어오지 않은 사용자는 디렉터리에 없어서 수락 시 게임을 만들 수 없다
	if !c.presence.IsConnected(from) {
		return invite.Invitation{}, ErrSenderOffline
	}
	target, ok := c.presence.ResolveConnectedUsername(to)
	if !ok {
		return invite.Invitation{}, ErrTargetOffline
	}
	inv, err := c.invites.Create(from, target)
	if err != nil {
		return invite.Invitation{}, err
	}
	c.pub.PublishUser(ctx, target, arenadto.QueueInvitations, arenadto.EventInvitation, arenadto.InvitationEvent{
		Type:         arenadto.EventInvitation,
		FromUsername: from,
	})
	obslog.L().Debug("invite_sent", zap.String("from", from), zap.String("to", target))
	return inv, nil
}

// Accept turns to's pending invitation from from into a game. A mismatching
// or missing invitation is ignored and returns nil, nil.
func (c *Coordinator) Accept(ctx context.Context, to, from string) (*pvpchess.Game, error) {
	inv, err := c.invites.Claim(to, from)
	if err != nil {
		if errors.Is(err, invite.ErrNoPending) || errors.Is(err, invite.ErrSenderMismatch) || errors.Is(err, invite.ErrAlreadyClaimed) {
			obslog.L().Debug("accept_ignored", zap.String("to", to), zap.String("from", from), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	g, err := c.games.CreateGame(ctx, inv.FromUsername, to)
	if err != nil {
		if errors.Is(err, pvpchess.ErrUnknownUser) {
			// retrying cannot succeed; free the recipient for other inviters
			c.invites.Remove(to)
		} else {
			c.invites.Release(to)
		}
		return nil, err
	}
	c.invites.Accept(to, g.ID)
	c.invites.Remove(to)

	ev := arenadto.InvitationEvent{
		Type:          arenadto.EventAccepted,
		ToUsername:    to,
		GameID:        g.ID,
		WhiteUsername: g.WhiteUsername,
		BlackUsername: g.BlackUsername,
	}
	inviter := inv.FromUsername
	if u, ok := c.presence.ResolveConnectedUsername(inviter); ok {
		inviter = u
	}
	c.pub.PublishUser(ctx, inviter, arenadto.QueueInvitations, arenadto.EventAccepted, ev)
	c.pub.PublishUser(ctx, to, arenadto.QueueInvitations, arenadto.EventAccepted, ev)
	obslog.L().Info("invite_accepted", zap.String("from", inv.FromUsername), zap.String("to", to), zap.String("game_id", g.ID))
	return g, nil
}

// Decline removes to's invitation from from and tells the inviter. Mismatches are ignored.
func (c *Coordinator) Decline(ctx context.Context, to, from string) bool {
	inv, err := c.invites.DeclineFrom(to, from)
	if err != nil {
		obslog.L().Debug("decline_ignored", zap.String("to", to), zap.String("from", from), zap.Error(err))
		return false
	}
	inviter := inv.FromUsername
	if u, ok := c.presence.ResolveConnectedUsername(inviter); ok {
		inviter = u
	}
	c.pub.PublishUser(ctx, inviter, arenadto.QueueInvitations, arenadto.EventDeclined, arenadto.InvitationEvent{
		Type:       arenadto.EventDeclined,
		ToUsername: to,
	})
	return true
}

// PendingInvitation is the poll fallback for clients that missed the push.
func (c *Coordinator) PendingInvitation(to string) (invite.Invitation, bool) {
	return c.invites.PendingFor(to)
}

func (c *Coordinator) SubmitMove(ctx context.Context, req pvpchess.MoveRequest) (*pvpchess.Move, error) {
	return c.games.SubmitMove(ctx, req)
}

func (c *Coordinator) Resign(ctx context.Context, gameID, username string) (*pvpchess.Game, error) {
	return c.games.Resign(ctx, gameID, username)
}

// BroadcastPresence publishes the connected list to the lobby topic.
func (c *Coordinator) BroadcastPresence(ctx context.Context) {
	c.pub.PublishTopic(ctx, arenadto.TopicLobbyUsers, arenadto.EventLobby, c.lobbyUsers())
}

// ResyncPresence republishes the lobby when anyone is connected.
func (c *Coordinator) ResyncPresence(ctx context.Context) {
	if c.presence.Count() == 0 {
		return
	}
	c.BroadcastPresence(ctx)
}

// ExpireInvitations drops invitations older than the configured TTL and
// notifies both sides. It is a no-op without a TTL.
func (c *Coordinator) ExpireInvitations(ctx context.Context) int {
	if c.invitationTTL <= 0 {
		return 0
	}
	expired := c.invites.Expire(c.now().Add(-c.invitationTTL))
	for _, inv := range expired {
		ev := arenadto.InvitationEvent{
			Type:         arenadto.EventExpired,
			FromUsername: inv.FromUsername,
			ToUsername:   inv.ToUsername,
		}
		c.pub.PublishUser(ctx, inv.FromUsername, arenadto.QueueInvitations, arenadto.EventExpired, ev)
		c.pub.PublishUser(ctx, inv.ToUsername, arenadto.QueueInvitations, arenadto.EventExpired, ev)
		obslog.L().Info("invite_expired", zap.String("from", inv.FromUsername), zap.String("to", inv.ToUsername))
	}
	return len(expired)
}

func (c *Coordinator) lobbyUsers() arenadto.LobbyUsers {
	return arenadto.LobbyUsers{Usernames: c.presence.ListConnected()}
}

// reportError unicasts err to username on the errors queue.
func (c *Coordinator) reportError(ctx context.Context, username string, err error, d Details) {
	de := Classify(c.cat, err, d)
	if de.Code == arenadto.CodeInternal {
		obslog.L().Error("action_error", zap.String("user", username), zap.String("game_id", d.GameID), zap.Error(err))
	} else {
		obslog.L().Debug("action_rejected", zap.String("user", username), zap.String("code", de.Code), zap.Error(err))
	}
	if username == "" {
		return
	}
	c.pub.PublishUser(ctx, username, arenadto.QueueErrors, arenadto.EventError, arenadto.ErrorEvent{
		Code:    de.Code,
		Message: de.Message,
		GameID:  d.GameID,
	})
}
