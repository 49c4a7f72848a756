package directory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arcadenet/lanlobby/internal/wire"
)

// startTestServer runs a server on an ephemeral loopback port.
func startTestServer(t *testing.T) (*Server, *Store, string) {
	t.Helper()

	store, err := Open(t.TempDir(), StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(store, nil, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	return srv, store, srv.Addr().String()
}

// dialTest opens a raw protocol connection to the server.
func dialTest(t *testing.T, addr string) (net.Conn, *wire.Encoder, *wire.Decoder) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, wire.NewEncoder(conn), wire.NewDecoder(conn)
}

func roundTrip(t *testing.T, enc *wire.Encoder, dec *wire.Decoder, req *wire.Request) *wire.Response {
	t.Helper()
	if err := enc.Encode(req); err != nil {
		t.Fatalf("send %s: %v", req.Cmd, err)
	}
	var resp wire.Response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("receive %s response: %v", req.Cmd, err)
	}
	return &resp
}

func TestServerRegisterLoginFlow(t *testing.T) {
	_, _, addr := startTestServer(t)
	_, enc, dec := dialTest(t, addr)

	resp := roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdRegister, Username: "alice", Credential: "pw1"})
	if !resp.OK() || resp.Detail != wire.DetailRegistered {
		t.Fatalf("register response: %+v", resp)
	}

	resp = roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogin, Username: "alice", Credential: "pw1"})
	if !resp.OK() || resp.LoginCount != 1 {
		t.Fatalf("login response: %+v", resp)
	}

	resp = roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdOnlineStatus, Username: "alice"})
	if !resp.OK() || resp.Online == nil || !*resp.Online {
		t.Fatalf("online status response: %+v", resp)
	}

	resp = roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogout, Username: "alice"})
	if !resp.OK() || resp.Detail != wire.DetailLoggedOut {
		t.Fatalf("logout response: %+v", resp)
	}
}

func TestServerLoginErrors(t *testing.T) {
	_, store, addr := startTestServer(t)
	if err := store.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	_, enc, dec := dialTest(t, addr)

	resp := roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogin, Username: "ghost", Credential: "x"})
	if resp.Status != wire.StatusErr || resp.Detail != wire.DetailNoSuchAccount {
		t.Errorf("unknown user: %+v", resp)
	}

	resp = roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogin, Username: "alice", Credential: "wrong"})
	if resp.Status != wire.StatusErr || resp.Detail != wire.DetailBadCredential {
		t.Errorf("bad credential: %+v", resp)
	}
}

func TestServerAlreadyActiveReturnsTaken(t *testing.T) {
	_, store, addr := startTestServer(t)
	if err := store.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	_, enc, dec := dialTest(t, addr)
	resp := roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogin, Username: "alice", Credential: "pw1"})
	if resp.Status != wire.StatusTaken || resp.Detail != wire.DetailAlreadyActive {
		t.Fatalf("duplicate login: %+v", resp)
	}
	if resp.LoginCount != 1 {
		t.Errorf("duplicate login must echo counters, got %+v", resp)
	}
}

func TestServerMalformedLineAnswersBadRequest(t *testing.T) {
	_, _, addr := startTestServer(t)
	conn, enc, dec := dialTest(t, addr)

	if _, err := conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatal(err)
	}
	var resp wire.Response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("expected BAD_REQUEST response: %v", err)
	}
	if resp.Status != wire.StatusErr || resp.Detail != wire.DetailBadRequest {
		t.Fatalf("malformed line: %+v", resp)
	}

	// The connection survives and keeps serving.
	resp2 := roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdRegister, Username: "bob", Credential: "pw"})
	if !resp2.OK() {
		t.Errorf("connection dead after malformed line: %+v", resp2)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	_, _, addr := startTestServer(t)
	_, enc, dec := dialTest(t, addr)

	resp := roundTrip(t, enc, dec, &wire.Request{Cmd: "TELEPORT", Username: "alice"})
	if resp.Status != wire.StatusErr || resp.Detail != wire.DetailUnknownCommand {
		t.Fatalf("unknown command: %+v", resp)
	}
}

func TestServerDisconnectMarksBoundUserOffline(t *testing.T) {
	_, store, addr := startTestServer(t)
	conn, enc, dec := dialTest(t, addr)

	roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdRegister, Username: "alice", Credential: "pw1"})
	resp := roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdLogin, Username: "alice", Credential: "pw1"})
	if !resp.OK() {
		t.Fatalf("login: %+v", resp)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !store.IsOnline("alice") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bound user still online after disconnect")
}

func TestServerStopClosesConnections(t *testing.T) {
	srv, _, addr := startTestServer(t)
	_, enc, dec := dialTest(t, addr)
	roundTrip(t, enc, dec, &wire.Request{Cmd: wire.CmdRegister, Username: "alice", Credential: "pw"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if srv.IsRunning() {
		t.Error("server still reports running after Stop")
	}

	var resp wire.Response
	if err := dec.Decode(&resp); err == nil {
		t.Error("connection should be closed after Stop")
	}
}
