// Package directory implements the authoritative account and presence
// registry: the in-memory store, its durable snapshot, the presence
// reaper, and the TCP request/response server.
package directory

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/metrics"
)

var (
	// ErrAlreadyExists is returned by Register for a duplicate username.
	ErrAlreadyExists = errors.New("account already exists")

	// ErrNoSuchAccount is returned for operations on unknown usernames.
	ErrNoSuchAccount = errors.New("no such account")

	// ErrBadCredential is returned by Login on a credential mismatch.
	ErrBadCredential = errors.New("bad credential")

	// ErrAlreadyActive is returned by Login when the account is already
	// online. It guards against duplicate concurrent sessions.
	ErrAlreadyActive = errors.New("account already active")
)

// Account is a single directory record. The username is the immutable
// key; everything else is mutated under the store lock.
type Account struct {
	Username      string
	Credential    string
	LoginCount    int64
	Experience    int64
	Online        bool
	LastHeartbeat time.Time
}

// LoginResult carries the counters returned by a successful login.
type LoginResult struct {
	LoginCount int64
	Experience int64
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Accounts int `json:"accounts"`
	Online   int `json:"online"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Clock drives LastHeartbeat stamps. Defaults to the wall clock.
	Clock clock.Clock

	// Logger for snapshot failures. Defaults to a nop logger.
	Logger *slog.Logger

	// Metrics receives store counters. Defaults to the process-wide
	// instance.
	Metrics *metrics.Metrics
}

// Store owns every account record. All access serializes through one
// mutex; each operation is a short critical section ending with a
// snapshot write for mutations. The snapshot is written while the lock
// is held, so every acknowledged mutation is durable before the next
// writer proceeds.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*Account

	snapshot *Snapshot
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Open loads the snapshot in dataDir (if any) and returns a ready
// store. Accounts restored as online get their heartbeat stamped at
// load time, so the reaper gives them a full staleness window to
// resume heartbeating.
func Open(dataDir string, opts StoreOptions) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	snap := NewSnapshot(dataDir)
	accounts, err := snap.Load()
	if err != nil {
		return nil, err
	}

	s := &Store{
		accounts: accounts,
		snapshot: snap,
		clock:    opts.Clock,
		logger:   opts.Logger.With(slog.String(logging.KeyComponent, "directory")),
		metrics:  opts.Metrics,
	}

	now := s.clock.Now()
	online := 0
	for _, acct := range s.accounts {
		acct.LastHeartbeat = now
		if acct.Online {
			online++
		}
	}
	s.metrics.AccountsTotal.Set(float64(len(s.accounts)))
	s.metrics.AccountsOnline.Set(float64(online))

	return s, nil
}

// Register creates a new account with zero counters, offline.
func (s *Store) Register(username, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return ErrAlreadyExists
	}

	s.accounts[username] = &Account{
		Username:      username,
		Credential:    credential,
		LastHeartbeat: s.clock.Now(),
	}
	s.metrics.AccountsTotal.Set(float64(len(s.accounts)))
	s.metrics.RegistrationsTotal.Inc()
	s.persistLocked()

	return nil
}

// Login transitions an account from offline to online, incrementing
// the login counter exactly once per transition. A login against an
// already-online account returns ErrAlreadyActive without touching any
// counter.
func (s *Store) Login(username, credential string) (LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[username]
	if !exists {
		s.metrics.LoginFailures.WithLabelValues("no_such_account").Inc()
		return LoginResult{}, ErrNoSuchAccount
	}
	if acct.Credential != credential {
		s.metrics.LoginFailures.WithLabelValues("bad_credential").Inc()
		return LoginResult{}, ErrBadCredential
	}
	if acct.Online {
		s.metrics.LoginFailures.WithLabelValues("already_active").Inc()
		return LoginResult{LoginCount: acct.LoginCount, Experience: acct.Experience}, ErrAlreadyActive
	}

	acct.Online = true
	acct.LoginCount++
	acct.LastHeartbeat = s.clock.Now()
	s.metrics.LoginsTotal.Inc()
	s.refreshOnlineGaugeLocked()
	s.persistLocked()

	return LoginResult{LoginCount: acct.LoginCount, Experience: acct.Experience}, nil
}

// Logout marks the account offline. Unknown usernames are tolerated so
// a disconnect cleanup can never fail.
func (s *Store) Logout(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[username]
	if !exists {
		return
	}

	acct.Online = false
	s.refreshOnlineGaugeLocked()
	s.persistLocked()
}

// Heartbeat refreshes the account's presence stamp, forces it online,
// and credits the experience delta. Forcing online means a heartbeat
// from a reaped account silently re-activates it; see the design notes
// for why this quirk is preserved.
func (s *Store) Heartbeat(username string, deltaXP int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[username]
	if !exists {
		return 0, ErrNoSuchAccount
	}

	acct.LastHeartbeat = s.clock.Now()
	acct.Online = true
	acct.Experience += deltaXP
	s.metrics.HeartbeatsTotal.Inc()
	s.refreshOnlineGaugeLocked()
	s.persistLocked()

	return acct.Experience, nil
}

// IsOnline reports the account's presence bit. Unknown usernames are
// offline, never an error; remote peers rely on this to detect
// abandonment.
func (s *Store) IsOnline(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[username]
	return exists && acct.Online
}

// Reap demotes every online account whose heartbeat is older than
// threshold. The whole sweep runs under one lock acquisition with a
// single snapshot write if anything changed. It returns the demoted
// usernames.
func (s *Store) Reap(threshold time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var demoted []string
	for _, acct := range s.accounts {
		if acct.Online && now.Sub(acct.LastHeartbeat) > threshold {
			acct.Online = false
			demoted = append(demoted, acct.Username)
		}
	}

	if len(demoted) > 0 {
		s.metrics.ReapedTotal.Add(float64(len(demoted)))
		s.refreshOnlineGaugeLocked()
		s.persistLocked()
	}

	return demoted
}

// Get returns a copy of the account record, for tests and diagnostics.
func (s *Store) Get(username string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[username]
	if !exists {
		return Account{}, false
	}
	return *acct, true
}

// Stats returns account counts for the health endpoint.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := 0
	for _, acct := range s.accounts {
		if acct.Online {
			online++
		}
	}
	return Stats{Accounts: len(s.accounts), Online: online}
}

// persistLocked writes the snapshot while holding the store lock. A
// write failure loses at most the current mutation's durability, never
// the in-memory state, so it is logged and counted rather than
// propagated to the client.
func (s *Store) persistLocked() {
	start := time.Now()
	if err := s.snapshot.Write(s.accounts); err != nil {
		s.metrics.SnapshotErrors.Inc()
		s.logger.Error("snapshot write failed", logging.KeyError, err)
		return
	}
	s.metrics.SnapshotWrites.Inc()
	s.metrics.SnapshotLatency.Observe(time.Since(start).Seconds())
}

func (s *Store) refreshOnlineGaugeLocked() {
	online := 0
	for _, acct := range s.accounts {
		if acct.Online {
			online++
		}
	}
	s.metrics.AccountsOnline.Set(float64(online))
}
