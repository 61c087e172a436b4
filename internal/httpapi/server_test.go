package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/invite"
	"github.com/park285/cheese-arena/internal/movecheck"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type stubLobby struct {
	pending map[string]invite.Invitation
	users   []string
}

func (l *stubLobby) PendingInvitation(to string) (invite.Invitation, bool) {
	inv, ok := l.pending[to]
	return inv, ok
}

func (l *stubLobby) ConnectedUsers() []string { return l.users }

type apiHarness struct {
	svc    *pvpchess.Service
	lobby  *stubLobby
	client *fasthttp.Client
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	store := pvpchess.NewMemoryStore()
	for _, u := range []string{"alice", "bob"} {
		if err := store.RememberUser(context.Background(), u); err != nil {
			t.Fatalf("remember %s: %v", u, err)
		}
	}
	h := &apiHarness{
		svc:   pvpchess.NewService(store, store, movecheck.New(), pvpchess.Options{}),
		lobby: &stubLobby{pending: map[string]invite.Invitation{}},
	}
	srv := New(h.svc, h.lobby, auth.NewResolver("", true), nil)
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = ln.Close()
	})
	h.client = &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, user string, out any) int {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://arena" + path)
	req.Header.SetMethod(method)
	if user != "" {
		req.Header.Set(auth.HeaderUserID, user)
	}
	if err := h.client.Do(req, resp); err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, resp.Body())
		}
	}
	return resp.StatusCode()
}

func TestHealthAndAuth(t *testing.T) {
	h := newAPI(t)
	if code := h.do(t, "GET", "/health", "", nil); code != 200 {
		t.Fatalf("health = %d", code)
	}
	var e errorBody
	if code := h.do(t, "GET", "/api/games/active", "", &e); code != 401 || e.Error != arenadto.CodeUnauthenticated {
		t.Fatalf("anonymous = %d %+v", code, e)
	}
	if code := h.do(t, "GET", "/api/nope", "alice", &e); code != 404 || e.Error != arenadto.CodeNotFound {
		t.Fatalf("unknown route = %d %+v", code, e)
	}
}

func TestWrongMethodRejected(t *testing.T) {
	h := newAPI(t)
	g, err := h.svc.CreateGame(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var e errorBody
	if code := h.do(t, "GET", "/api/games/"+g.ID+"/resign", "bob", &e); code != 405 || e.Error != arenadto.CodeBadRequest {
		t.Fatalf("GET resign = %d %+v", code, e)
	}
	if code := h.do(t, "DELETE", "/api/games/"+g.ID, "bob", &e); code != 405 {
		t.Fatalf("DELETE game = %d", code)
	}
	var v arenadto.GameView
	if code := h.do(t, "GET", "/api/games/"+g.ID, "bob", &v); code != 200 || v.Status != "ACTIVE" {
		t.Fatalf("game changed by rejected requests: %d %+v", code, v)
	}
}

func TestGameReadAndResign(t *testing.T) {
	h := newAPI(t)
	ctx := context.Background()
	g, err := h.svc.CreateGame(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var v arenadto.GameView
	if code := h.do(t, "GET", "/api/games/"+g.ID, "carol", &v); code != 200 || v.WhiteUsername != "alice" || v.Status != "ACTIVE" {
		t.Fatalf("get = %d %+v", code, v)
	}
	var e errorBody
	if code := h.do(t, "GET", "/api/games/missing", "alice", &e); code != 404 || e.Error != arenadto.CodeNotFound {
		t.Fatalf("missing = %d %+v", code, e)
	}

	var active []arenadto.GameView
	if code := h.do(t, "GET", "/api/games/active", "bob", &active); code != 200 || len(active) != 1 {
		t.Fatalf("active = %d %d", code, len(active))
	}

	if code := h.do(t, "POST", "/api/games/"+g.ID+"/resign", "carol", &e); code != 400 || e.Error != arenadto.CodeNotParticipant {
		t.Fatalf("outsider resign = %d %+v", code, e)
	}
	if code := h.do(t, "POST", "/api/games/"+g.ID+"/resign", "bob", &v); code != 200 {
		t.Fatalf("resign = %d", code)
	}
	if v.Status != "FINISHED" || v.WinnerUsername != "alice" {
		t.Fatalf("after resign = %+v", v)
	}
	if code := h.do(t, "POST", "/api/games/"+g.ID+"/resign", "alice", &e); code != 404 {
		t.Fatalf("second resign = %d", code)
	}

	var history []arenadto.GameView
	h.do(t, "GET", "/api/games/history", "alice", &history)
	if len(history) != 1 || history[0].ID != g.ID {
		t.Fatalf("history = %+v", history)
	}
	h.do(t, "GET", "/api/games/active", "alice", &active)
	if len(active) != 0 {
		t.Fatalf("active after resign = %d", len(active))
	}
}

func TestPendingInvitationAndLobby(t *testing.T) {
	h := newAPI(t)
	var raw map[string]any
	if code := h.do(t, "GET", "/api/invitations/pending", "bob", &raw); code != 200 || len(raw) != 0 {
		t.Fatalf("empty pending = %d %v", code, raw)
	}

	h.lobby.pending["bob"] = invite.Invitation{FromUsername: "alice", ToUsername: "bob", Status: invite.StatusPending}
	var ev arenadto.InvitationEvent
	h.do(t, "GET", "/api/invitations/pending", "bob", &ev)
	if ev.FromUsername != "alice" {
		t.Fatalf("pending = %+v", ev)
	}

	h.lobby.users = []string{"alice", "bob"}
	var lu arenadto.LobbyUsers
	h.do(t, "GET", "/api/lobby/users", "bob", &lu)
	if len(lu.Usernames) != 2 {
		t.Fatalf("lobby = %+v", lu)
	}
}
