package directory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s, err := Open(t.TempDir(), StoreOptions{Clock: mock})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, mock
}

func TestRegisterAndLogin(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	acct, ok := s.Get("alice")
	if !ok {
		t.Fatal("account missing after register")
	}
	if acct.Online || acct.LoginCount != 0 || acct.Experience != 0 {
		t.Errorf("new account must be offline with zero counters: %+v", acct)
	}

	res, err := s.Login("alice", "pw1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.LoginCount != 1 {
		t.Errorf("login_count = %d, want 1", res.LoginCount)
	}
	if !s.IsOnline("alice") {
		t.Error("account must be online after login")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	err := s.Register("alice", "other")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate register: got %v, want ErrAlreadyExists", err)
	}

	// The original credential survives.
	acct, _ := s.Get("alice")
	if acct.Credential != "pw1" {
		t.Errorf("credential overwritten: %q", acct.Credential)
	}
}

func TestLoginFailures(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Login("ghost", "pw1"); !errors.Is(err, ErrNoSuchAccount) {
		t.Errorf("unknown user: got %v, want ErrNoSuchAccount", err)
	}
	if _, err := s.Login("alice", "wrong"); !errors.Is(err, ErrBadCredential) {
		t.Errorf("wrong credential: got %v, want ErrBadCredential", err)
	}
}

func TestLoginAlreadyActive(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Login("alice", "pw1")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second login: got %v, want ErrAlreadyActive", err)
	}
	// Counters are reported but not incremented.
	if res.LoginCount != 1 {
		t.Errorf("login_count = %d, want 1 (unchanged)", res.LoginCount)
	}
	acct, _ := s.Get("alice")
	if acct.LoginCount != 1 {
		t.Errorf("stored login_count = %d, want 1", acct.LoginCount)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	s.Logout("alice")
	if s.IsOnline("alice") {
		t.Error("account still online after logout")
	}

	// Logout of offline and unknown accounts must not panic or error.
	s.Logout("alice")
	s.Logout("ghost")
}

func TestLoginCountIncrementsPerTransition(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		res, err := s.Login("alice", "pw1")
		if err != nil {
			t.Fatal(err)
		}
		if res.LoginCount != i {
			t.Errorf("login %d: count = %d", i, res.LoginCount)
		}
		s.Logout("alice")
	}
}

func TestHeartbeatAccruesExperience(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	xp, err := s.Heartbeat("alice", 1)
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if xp != 1 {
		t.Errorf("experience = %d, want 1", xp)
	}
	xp, _ = s.Heartbeat("alice", 5)
	if xp != 6 {
		t.Errorf("experience = %d, want 6", xp)
	}

	if _, err := s.Heartbeat("ghost", 1); !errors.Is(err, ErrNoSuchAccount) {
		t.Errorf("heartbeat for unknown user: got %v", err)
	}
}

func TestHeartbeatReactivatesReapedAccount(t *testing.T) {
	s, mock := newTestStore(t)
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}

	mock.Add(11 * time.Second)
	demoted := s.Reap(10 * time.Second)
	if len(demoted) != 1 || demoted[0] != "alice" {
		t.Fatalf("reap demoted %v, want [alice]", demoted)
	}
	if s.IsOnline("alice") {
		t.Fatal("account still online after reap")
	}

	// A late heartbeat flips the account back online.
	if _, err := s.Heartbeat("alice", 1); err != nil {
		t.Fatal(err)
	}
	if !s.IsOnline("alice") {
		t.Error("heartbeat must re-activate a reaped account")
	}
}

func TestReapOnlyStaleAccounts(t *testing.T) {
	s, mock := newTestStore(t)
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := s.Register(name, "pw"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Login(name, "pw"); err != nil {
			t.Fatal(err)
		}
	}

	mock.Add(8 * time.Second)
	if _, err := s.Heartbeat("bob", 0); err != nil {
		t.Fatal(err)
	}
	mock.Add(4 * time.Second)

	demoted := s.Reap(10 * time.Second)
	if len(demoted) != 2 {
		t.Fatalf("demoted %v, want alice and carol", demoted)
	}
	if !s.IsOnline("bob") {
		t.Error("recently heartbeating account must survive the sweep")
	}

	// Silence exactly at the threshold is not stale: strictly older only.
	if again := s.Reap(4 * time.Second); len(again) != 0 {
		t.Errorf("at-threshold sweep demoted %v, want none", again)
	}
}

func TestIsOnlineUnknownUser(t *testing.T) {
	s, _ := newTestStore(t)
	if s.IsOnline("ghost") {
		t.Error("unknown account must read as offline")
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"alice", "bob"} {
		if err := s.Register(name, "pw"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Login("alice", "pw"); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	if stats.Accounts != 2 || stats.Online != 1 {
		t.Errorf("stats = %+v, want 2 accounts, 1 online", stats)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()

	s, err := Open(dir, StoreOptions{Clock: mock})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Login("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Heartbeat("alice", 7); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, snapshotFileName)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	reopened, err := Open(dir, StoreOptions{Clock: mock})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	acct, ok := reopened.Get("alice")
	if !ok {
		t.Fatal("account lost across reopen")
	}
	if acct.Credential != "pw1" || acct.LoginCount != 1 || acct.Experience != 7 || !acct.Online {
		t.Errorf("restored account mismatch: %+v", acct)
	}
	// Restored heartbeat stamp is load time, granting a fresh window.
	if !acct.LastHeartbeat.Equal(mock.Now()) {
		t.Errorf("restored heartbeat = %v, want load time %v", acct.LastHeartbeat, mock.Now())
	}
}

func TestOpenMissingSnapshotStartsEmpty(t *testing.T) {
	s, err := Open(t.TempDir(), StoreOptions{})
	if err != nil {
		t.Fatalf("open with no snapshot: %v", err)
	}
	if stats := s.Stats(); stats.Accounts != 0 {
		t.Errorf("fresh store has %d accounts", stats.Accounts)
	}
}
