package dirclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcadenet/lanlobby/internal/directory"
)

// startDirectory runs a real directory server on an ephemeral loopback
// port and returns a client pointed at it.
func startDirectory(t *testing.T) (*Client, *directory.Store) {
	t.Helper()

	store, err := directory.Open(t.TempDir(), directory.StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}

	srv := directory.NewServer(store, nil, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start directory: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	client := New(Config{Address: srv.Addr().String(), DialTimeout: 2 * time.Second}, nil)
	return client, store
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientRegisterLoginLogout(t *testing.T) {
	client, store := startDirectory(t)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	info, err := client.Login(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if info.LoginCount != 1 || info.Experience != 0 {
		t.Errorf("login info: %+v", info)
	}
	if !store.IsOnline("alice") {
		t.Error("account not online after client login")
	}

	if err := client.Logout(ctx, "alice"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if store.IsOnline("alice") {
		t.Error("account still online after client logout")
	}
}

func TestLoginOutlastsTheRequest(t *testing.T) {
	client, store := startDirectory(t)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	// Presence rides on the client connection: it must hold between
	// requests with no heartbeat running.
	time.Sleep(300 * time.Millisecond)
	if !store.IsOnline("alice") {
		t.Fatal("account went offline between requests")
	}

	// A second session still trips the duplicate guard and leaves the
	// login counter alone.
	other := New(Config{Address: client.Address(), DialTimeout: 2 * time.Second}, nil)
	defer other.Close()
	info, err := other.Login(ctx, "alice", "pw1")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("duplicate session: got %v", err)
	}
	if info.LoginCount != 1 {
		t.Errorf("login_count = %d, want 1", info.LoginCount)
	}

	// Dropping the connection is a departure: the server reverts the
	// bound account's presence when it sees the disconnect.
	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !store.IsOnline("alice") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("account still online after the connection dropped")
}

func TestClientTypedErrors(t *testing.T) {
	client, store := startDirectory(t)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if err := client.Register(ctx, "alice", "other"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate register: got %v", err)
	}

	if _, err := client.Login(ctx, "ghost", "x"); !errors.Is(err, ErrNoSuchAccount) {
		t.Errorf("unknown user: got %v", err)
	}
	if _, err := client.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrBadCredential) {
		t.Errorf("bad credential: got %v", err)
	}

	if _, err := store.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	info, err := client.Login(ctx, "alice", "pw1")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("duplicate session: got %v", err)
	}
	if info.LoginCount != 1 {
		t.Errorf("ErrAlreadyActive must still carry counters: %+v", info)
	}
}

func TestClientHeartbeat(t *testing.T) {
	client, _ := startDirectory(t)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	xp, err := client.Heartbeat(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if xp != 3 {
		t.Errorf("experience = %d, want 3", xp)
	}

	if _, err := client.Heartbeat(ctx, "ghost", 1); !errors.Is(err, ErrNoSuchAccount) {
		t.Errorf("heartbeat unknown user: got %v", err)
	}
}

func TestClientIsOnline(t *testing.T) {
	client, store := startDirectory(t)
	ctx := testCtx(t)

	online, err := client.IsOnline(ctx, "ghost")
	if err != nil {
		t.Fatalf("is_online: %v", err)
	}
	if online {
		t.Error("unknown user must read as offline")
	}

	if err := store.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	online, err = client.IsOnline(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Error("logged-in account must read as online")
	}
}

func TestClientDialFailure(t *testing.T) {
	client := New(Config{Address: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestHeartbeatSenderKeepsPresenceFresh(t *testing.T) {
	client, store := startDirectory(t)
	ctx := testCtx(t)

	if err := client.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	sender := NewHeartbeatSender(client, "alice", HeartbeatConfig{
		Interval: 20 * time.Millisecond,
		DeltaXP:  1,
	}, nil, nil)
	sender.Start()
	defer sender.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if acct, ok := store.Get("alice"); ok && acct.Experience >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("heartbeat sender never credited experience")
}
