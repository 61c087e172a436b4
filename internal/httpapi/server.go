// Package httpapi serves the REST read/resign surface over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/invite"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type Games interface {
	GetGame(ctx context.Context, gameID, viewer string) (arenadto.GameView, error)
	ActiveGamesFor(ctx context.Context, username string) ([]arenadto.GameView, error)
	FinishedGamesFor(ctx context.Context, username string) ([]arenadto.GameView, error)
	Resign(ctx context.Context, gameID, username string) (*pvpchess.Game, error)
}

type Lobby interface {
	PendingInvitation(to string) (invite.Invitation, bool)
	ConnectedUsers() []string
}

type Identifier interface {
	Identify(authorization, userHeader, queryToken string) (string, error)
}

type Server struct {
	games Games
	lobby Lobby
	ident Identifier
	cat   *msgcat.Catalog
	srv   *fasthttp.Server
}

func New(games Games, lb Lobby, ident Identifier, cat *msgcat.Catalog) *Server {
	s := &Server{games: games, lobby: lb, ident: ident, cat: cat}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "cheese-arena",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxRequestBodySize: 64 << 10,
		Logger:             obslog.StdLogger("fasthttp"),
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }
func (s *Server) Serve(ln net.Listener) error      { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handler routes requests; exposed for tests and embedding.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.NotFound = s.notFound
	r.MethodNotAllowed = s.methodNotAllowed

	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/games/active", s.authed(func(ctx *fasthttp.RequestCtx, user string) {
		s.listGames(ctx, user, s.games.ActiveGamesFor)
	}))
	api.GET("/games/history", s.authed(func(ctx *fasthttp.RequestCtx, user string) {
		s.listGames(ctx, user, s.games.FinishedGamesFor)
	}))
	api.GET("/games/{id}", s.authed(s.getGame))
	api.POST("/games/{id}/resign", s.authed(s.resign))
	api.GET("/invitations/pending", s.authed(s.pendingInvitation))
	api.GET("/lobby/users", s.authed(func(ctx *fasthttp.RequestCtx, _ string) {
		writeJSON(ctx, fasthttp.StatusOK, arenadto.LobbyUsers{Usernames: s.lobby.ConnectedUsers()})
	}))

	h := r.Handler
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		h(ctx)
		obslog.L().Debug("http_request",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("took", time.Since(start)))
	}
}

// authed resolves the caller before running next.
func (s *Server) authed(next func(ctx *fasthttp.RequestCtx, user string)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, err := s.ident.Identify(
			string(ctx.Request.Header.Peek("Authorization")),
			string(ctx.Request.Header.Peek(auth.HeaderUserID)),
			string(ctx.QueryArgs().Peek("token")),
		)
		if err != nil {
			s.writeError(ctx, lobby.ErrUnauthenticated, lobby.Details{})
			return
		}
		next(ctx, user)
	}
}

func gameID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("id").(string)
	return id
}

func (s *Server) listGames(ctx *fasthttp.RequestCtx, user string, list func(context.Context, string) ([]arenadto.GameView, error)) {
	views, err := list(ctx, user)
	if err != nil {
		s.writeError(ctx, err, lobby.Details{})
		return
	}
	if views == nil {
		views = []arenadto.GameView{}
	}
	writeJSON(ctx, fasthttp.StatusOK, views)
}

func (s *Server) getGame(ctx *fasthttp.RequestCtx, user string) {
	id := gameID(ctx)
	v, err := s.games.GetGame(ctx, id, user)
	if err != nil {
		s.writeError(ctx, err, lobby.Details{GameID: id})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, v)
}

func (s *Server) resign(ctx *fasthttp.RequestCtx, user string) {
	id := gameID(ctx)
	if _, err := s.games.Resign(ctx, id, user); err != nil {
		s.writeError(ctx, err, lobby.Details{GameID: id})
		return
	}
	s.getGame(ctx, user)
}

func (s *Server) pendingInvitation(ctx *fasthttp.RequestCtx, user string) {
	inv, ok := s.lobby.PendingInvitation(user)
	if !ok {
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("{}")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, arenadto.InvitationEvent{
		Type:         arenadto.EventInvitation,
		FromUsername: inv.FromUsername,
		ToUsername:   inv.ToUsername,
	})
}

func (s *Server) notFound(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusNotFound, errorBody{Error: arenadto.CodeNotFound, Message: "no such route"})
}

func (s *Server) methodNotAllowed(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusMethodNotAllowed, errorBody{Error: arenadto.CodeBadRequest, Message: "method not allowed"})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error, d lobby.Details) {
	de := lobby.Classify(s.cat, err, d)
	status := statusFor(de.Code)
	if status >= fasthttp.StatusInternalServerError || errors.Is(err, pvpchess.ErrConflict) {
		obslog.L().Error("http_error", zap.ByteString("path", ctx.Path()), zap.Error(err))
	}
	writeJSON(ctx, status, errorBody{Error: de.Code, Message: de.Message})
}

func statusFor(code string) int {
	switch code {
	case arenadto.CodeUnauthenticated:
		return fasthttp.StatusUnauthorized
	case arenadto.CodeNotFound:
		return fasthttp.StatusNotFound
	case arenadto.CodeAlreadyPending:
		return fasthttp.StatusConflict
	case arenadto.CodeInternal:
		return fasthttp.StatusInternalServerError
	default:
		return fasthttp.StatusBadRequest
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		obslog.L().Error("http_encode_failed", zap.Error(err))
		ctx.Error(`{"error":"INTERNAL","message":"encode failure"}`, fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}
