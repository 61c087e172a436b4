// arenacheck smoke-tests a running arena server: REST reads, then a socket
// session that joins the lobby and prints frames for a short window.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-arena/internal/arenaclient"
	"github.com/park285/cheese-arena/internal/auth"
)

func main() {
	apiURL := flag.String("api", envOr("ARENA_API_URL", "http://localhost:8080"), "REST base URL")
	wsURL := flag.String("ws", envOr("ARENA_WS_URL", "ws://localhost:8081/ws"), "socket URL")
	user := flag.String("user", os.Getenv("ARENA_USER"), "username")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "sign a token with this secret instead of sending X-User-Id")
	watch := flag.Duration("watch", 10*time.Second, "how long to print socket frames")
	invite := flag.String("invite", "", "invite this user after joining")
	flag.Parse()

	if *user == "" {
		log.Fatal("ARENA_USER or -user is required")
	}

	headers := map[string]string{auth.HeaderUserID: *user}
	if *secret != "" {
		tok, err := auth.NewResolver(*secret, false).IssueToken(*user, time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		headers = map[string]string{"Authorization": "Bearer " + tok}
	}
	provider := func() map[string]string { return headers }

	client := arenaclient.NewClient(*apiURL,
		arenaclient.WithHeaderProvider(provider),
		arenaclient.WithTimeout(8*time.Second),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.Health(ctx); err != nil {
		cancel()
		log.Fatalf("/health error: %v", err)
	}
	log.Printf("/health ok")
	if games, err := client.ActiveGames(ctx); err != nil {
		log.Printf("/api/games/active error: %v", err)
	} else {
		for _, g := range games {
			log.Printf("active game %s: %s vs %s, %s to move", g.ID, g.WhiteUsername, g.BlackUsername, g.SideToMove)
		}
	}
	if inv, err := client.PendingInvitation(ctx); err != nil {
		log.Printf("/api/invitations/pending error: %v", err)
	} else if inv != nil {
		log.Printf("pending invitation from %s", inv.FromUsername)
	}
	cancel()

	sock := arenaclient.NewSocket(*wsURL, 5)
	sock.SetHeaderProvider(provider)
	sock.OnStateChange(func(st arenaclient.State) { log.Printf("socket state: %s", st) })
	sock.OnFrame(func(f arenaclient.Frame) {
		fmt.Printf("%s %s %s\n", f.Destination, f.Type, f.Payload)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := sock.Connect(cctx); err != nil {
		log.Fatalf("socket connect error: %v", err)
	}
	if err := sock.JoinLobby(cctx); err != nil {
		log.Printf("join lobby error: %v", err)
	}
	if *invite != "" {
		if err := sock.Invite(cctx, *invite); err != nil {
			log.Printf("invite error: %v", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(*watch):
	case <-sig:
	}

	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	_ = sock.Close(sctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
