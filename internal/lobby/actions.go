package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// HandleAction dispatches one inbound frame from an authenticated connection.
// Failures are reported to the sender on the errors queue and never escape.
func (c *Coordinator) HandleAction(ctx context.Context, connID, username string, in arenadto.Inbound) {
	var d Details
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("action_panic", zap.String("type", in.Type), zap.Any("panic", r), zap.Stack("stack"))
			c.reportError(ctx, username, fmt.Errorf("panic in %s", in.Type), d)
		}
	}()
	if err := c.dispatch(ctx, connID, username, in, &d); err != nil {
		c.reportError(ctx, username, err, d)
	}
}

func (c *Coordinator) dispatch(ctx context.Context, connID, username string, in arenadto.Inbound, d *Details) error {
	if strings.TrimSpace(username) == "" {
		return ErrUnauthenticated
	}
	switch in.Type {
	case arenadto.ActionJoinLobby:
		return c.JoinLobby(ctx, connID, username)

	case arenadto.ActionInvite:
		var req arenadto.InviteRequest
		if err := decode(in.Payload, &req); err != nil {
			return err
		}
		d.Target = strings.TrimSpace(req.ToUsername)
		_, err := c.Invite(ctx, username, req.ToUsername)
		return err

	case arenadto.ActionAccept:
		var req arenadto.InvitationReply
		if err := decode(in.Payload, &req); err != nil {
			return err
		}
		if req.FromUsername == "" {
			return ErrBadRequest
		}
		_, err := c.Accept(ctx, username, req.FromUsername)
		return err

	case arenadto.ActionDecline:
		var req arenadto.InvitationReply
		if err := decode(in.Payload, &req); err != nil {
			return err
		}
		if req.FromUsername == "" {
			return ErrBadRequest
		}
		c.Decline(ctx, username, req.FromUsername)
		return nil

	case arenadto.ActionMove:
		var req arenadto.MoveRequest
		if err := decode(in.Payload, &req); err != nil {
			return err
		}
		d.GameID = req.GameID
		if req.GameID == "" || req.MoveNumber == nil || req.FromSquare == "" || req.ToSquare == "" {
			return ErrBadRequest
		}
		_, err := c.SubmitMove(ctx, pvpchess.MoveRequest{
			GameID:        req.GameID,
			Username:      username,
			ExpectedIndex: *req.MoveNumber,
			From:          req.FromSquare,
			To:            req.ToSquare,
			Piece:         req.Piece,
			Promotion:     req.Promotion,
		})
		var seq *pvpchess.SequenceError
		if errors.As(err, &seq) {
			d.Expected = seq.Expected
		}
		return err

	case arenadto.ActionResign:
		var req arenadto.ResignRequest
		if err := decode(in.Payload, &req); err != nil {
			return err
		}
		d.GameID = req.GameID
		if req.GameID == "" {
			return ErrBadRequest
		}
		_, err := c.Resign(ctx, req.GameID, username)
		return err
	}
	return fmt.Errorf("%w: unknown action %q", ErrBadRequest, in.Type)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrBadRequest
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
