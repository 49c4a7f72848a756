// Package integration provides end-to-end tests for lanlobby.
package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arcadenet/lanlobby/internal/dirclient"
	"github.com/arcadenet/lanlobby/internal/directory"
	"github.com/arcadenet/lanlobby/internal/game"
	"github.com/arcadenet/lanlobby/internal/rendezvous"
	"github.com/arcadenet/lanlobby/internal/session"
)

// lobby is a running directory instance for a test.
type lobby struct {
	store  *directory.Store
	server *directory.Server
}

func startLobby(t *testing.T) *lobby {
	t.Helper()

	store, err := directory.Open(t.TempDir(), directory.StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}
	srv := directory.NewServer(store, nil, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return &lobby{store: store, server: srv}
}

func (l *lobby) client() *dirclient.Client {
	return dirclient.New(dirclient.Config{
		Address:     l.server.Addr().String(),
		DialTimeout: 2 * time.Second,
	}, nil)
}

// enroll registers and logs a fresh account in.
func enroll(t *testing.T, client *dirclient.Client, username string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Register(ctx, username, "pw-"+username); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	info, err := client.Login(ctx, username, "pw-"+username)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	if info.LoginCount != 1 {
		t.Fatalf("%s login count = %d, want 1", username, info.LoginCount)
	}
}

// scripted plays a fixed move sequence.
func scripted(positions ...int) game.MoveProvider {
	i := 0
	return func(board game.Board, mark string) (int, error) {
		if i >= len(positions) {
			return 0, fmt.Errorf("script exhausted")
		}
		pos := positions[i]
		i++
		return pos, nil
	}
}

// TestMatchmakingAndGame drives the full flow: two accounts enroll,
// discover each other over UDP, hand off to a direct TCP session, and
// play a game to completion while both stay online in the directory.
func TestMatchmakingAndGame(t *testing.T) {
	lb := startLobby(t)

	alice := lb.client()
	bob := lb.client()
	enroll(t, alice, "alice")
	enroll(t, bob, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Bob waits for invites.
	respCfg := rendezvous.DefaultResponderConfig()
	respCfg.Username = "bob"
	respCfg.Host = "127.0.0.1"
	respCfg.PortMin = 17300
	respCfg.PortMax = 17305
	responder, err := rendezvous.NewResponder(respCfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer responder.Close()

	type guestOutcome struct {
		result string
		err    error
	}
	guestCh := make(chan guestOutcome, 1)
	go func() {
		transport, inviter, err := responder.WaitForSession(ctx, func(string) bool { return true })
		if err != nil {
			guestCh <- guestOutcome{err: err}
			return
		}
		defer transport.Close()
		if inviter != "alice" {
			guestCh <- guestOutcome{err: fmt.Errorf("inviter = %q", inviter)}
			return
		}
		g := game.New(transport, scripted(3, 4), nil, nil)
		result, err := g.RunGuest()
		guestCh <- guestOutcome{result: result, err: err}
	}()

	// Alice scans, invites, and hosts.
	initCfg := rendezvous.DefaultInitiatorConfig()
	initCfg.Username = "alice"
	initCfg.ProbeTimeout = 200 * time.Millisecond
	initCfg.Backoff.MaxRounds = 5
	initCfg.Backoff.InitialDelay = 50 * time.Millisecond
	initiator, err := rendezvous.NewInitiator(initCfg, &rendezvous.HostPortEnumerator{
		Hosts: []string{"127.0.0.1"}, PortMin: 17300, PortMax: 17305,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer initiator.Close()

	transport, peer, err := initiator.Run(ctx,
		func(peers []rendezvous.Peer) (int, error) { return 0, nil },
		session.ListenConfig{Kind: session.TransportTCP, Host: "127.0.0.1", PortMin: 23200, PortMax: 23250},
		"127.0.0.1")
	if err != nil {
		t.Fatalf("matchmaking: %v", err)
	}
	defer transport.Close()
	if peer.Name != "bob" {
		t.Fatalf("matched %q, want bob", peer.Name)
	}

	// Both peers see each other online for the whole match.
	online, err := alice.IsOnline(ctx, "bob")
	if err != nil || !online {
		t.Fatalf("bob online = %v, %v", online, err)
	}

	host := game.New(transport, scripted(0, 1, 2), nil, nil)
	outcome, err := host.RunHost("alice", "bob")
	if err != nil {
		t.Fatalf("host game: %v", err)
	}
	if outcome != game.XWins {
		t.Errorf("outcome = %v, want XWins", outcome)
	}

	guest := <-guestCh
	if guest.err != nil {
		t.Fatalf("guest: %v", guest.err)
	}
	if guest.result != "LOSE" {
		t.Errorf("guest result = %q, want LOSE", guest.result)
	}
}

// TestLivenessTerminatesAbandonedSession covers the abandonment path:
// once the remote account logs out, the local liveness monitor closes
// the session transport and unblocks the game loop.
func TestLivenessTerminatesAbandonedSession(t *testing.T) {
	lb := startLobby(t)

	alice := lb.client()
	enroll(t, alice, "alice")
	enroll(t, lb.client(), "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	respCfg := rendezvous.DefaultResponderConfig()
	respCfg.Username = "bob"
	respCfg.Host = "127.0.0.1"
	respCfg.PortMin = 17310
	respCfg.PortMax = 17315
	responder, err := rendezvous.NewResponder(respCfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer responder.Close()

	guestReady := make(chan session.Transport, 1)
	go func() {
		transport, _, err := responder.WaitForSession(ctx, func(string) bool { return true })
		if err == nil {
			guestReady <- transport
		}
	}()

	initCfg := rendezvous.DefaultInitiatorConfig()
	initCfg.Username = "alice"
	initCfg.ProbeTimeout = 200 * time.Millisecond
	initCfg.Backoff.MaxRounds = 5
	initCfg.Backoff.InitialDelay = 50 * time.Millisecond
	initiator, err := rendezvous.NewInitiator(initCfg, &rendezvous.HostPortEnumerator{
		Hosts: []string{"127.0.0.1"}, PortMin: 17310, PortMax: 17315,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer initiator.Close()

	transport, _, err := initiator.Run(ctx,
		func(peers []rendezvous.Peer) (int, error) { return 0, nil },
		session.ListenConfig{Kind: session.TransportTCP, Host: "127.0.0.1", PortMin: 23300, PortMax: 23350},
		"127.0.0.1")
	if err != nil {
		t.Fatalf("matchmaking: %v", err)
	}
	defer transport.Close()
	guestTransport := <-guestReady
	defer guestTransport.Close()

	monitor := session.NewMonitor(alice, "bob", session.MonitorConfig{
		Interval: 50 * time.Millisecond,
	}, nil, nil)
	monitor.OnLost = func() { transport.Close() }
	monitor.Start()
	defer monitor.Stop()

	// Alice blocks waiting for a move that will never come.
	host := game.New(transport, scripted(0), monitor, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := host.RunHost("alice", "bob")
		errCh <- err
	}()

	// Bob walks away.
	lb.store.Logout("bob")

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("host game ended cleanly despite abandonment")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("host game never unblocked after peer went offline")
	}
	if !monitor.Terminated() {
		t.Error("monitor did not record the termination")
	}
}
