// Package dirclient implements the client half of the directory
// protocol. A client holds a single connection to the directory for
// its whole session: the server ties presence to the connection that
// logged in, so the login stays in effect until an explicit logout or
// the connection drops.
package dirclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/wire"
)

var (
	// ErrAlreadyExists is returned by Register for a taken username.
	ErrAlreadyExists = errors.New("username already registered")

	// ErrNoSuchAccount is returned for unknown usernames.
	ErrNoSuchAccount = errors.New("no such account")

	// ErrBadCredential is returned by Login on a credential mismatch.
	ErrBadCredential = errors.New("bad credential")

	// ErrAlreadyActive is returned by Login when the account is online
	// elsewhere.
	ErrAlreadyActive = errors.New("account already active")

	// ErrProtocol is returned for responses outside the protocol.
	ErrProtocol = errors.New("unexpected directory response")
)

// Config contains directory client settings.
type Config struct {
	// Address is the directory host:port.
	Address string

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:12000",
		DialTimeout: 5 * time.Second,
	}
}

// LoginInfo carries the counters returned by LOGIN.
type LoginInfo struct {
	LoginCount int64
	Experience int64
}

// Client issues directory requests over one long-lived connection,
// dialed lazily on the first request. Requests are serialized by a
// mutex, preserving the protocol's strict request/response ordering,
// so the client is safe for concurrent use. A transport failure drops
// the connection; the next request redials.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	enc  *wire.Encoder
	dec  *wire.Decoder
}

// New creates a directory client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With(slog.String(logging.KeyComponent, "dirclient")),
	}
}

// Address returns the configured directory address.
func (c *Client) Address() string {
	return c.cfg.Address
}

// Close drops the directory connection. The server treats the
// disconnect as a departure and marks the bound account offline, so
// call Logout first for a clean exit.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.enc, c.dec = nil, nil, nil
	return err
}

// connectLocked dials the directory. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial directory: %w", err)
	}

	c.conn = conn
	c.enc = wire.NewEncoder(conn)
	c.dec = wire.NewDecoder(conn)
	c.logger.Debug("connected to directory", logging.KeyAddress, c.cfg.Address)
	return nil
}

// resetLocked discards a failed connection so the next request
// redials. The server reverts the bound account's presence when it
// sees the disconnect; a running heartbeat re-establishes it over the
// new connection. Caller holds c.mu.
func (c *Client) resetLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.enc, c.dec = nil, nil, nil
}

// do performs one request/response exchange on the session
// connection, dialing first if needed.
func (c *Client) do(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}

	if err := c.enc.Encode(req); err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp wire.Response
	if err := c.dec.Decode(&resp); err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.conn.SetDeadline(time.Time{})
	return &resp, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, credential string) error {
	resp, err := c.do(ctx, &wire.Request{
		Cmd:        wire.CmdRegister,
		Username:   username,
		Credential: credential,
	})
	if err != nil {
		return err
	}
	if resp.OK() {
		return nil
	}
	if resp.Detail == wire.DetailAlreadyExists {
		return ErrAlreadyExists
	}
	return fmt.Errorf("%w: %s/%s", ErrProtocol, resp.Status, resp.Detail)
}

// Login transitions the account online and returns its counters. The
// login holds for the lifetime of the client connection.
// ErrAlreadyActive still carries the counters of the active session.
func (c *Client) Login(ctx context.Context, username, credential string) (LoginInfo, error) {
	resp, err := c.do(ctx, &wire.Request{
		Cmd:        wire.CmdLogin,
		Username:   username,
		Credential: credential,
	})
	if err != nil {
		return LoginInfo{}, err
	}

	info := LoginInfo{LoginCount: resp.LoginCount, Experience: resp.Experience}
	switch {
	case resp.OK():
		return info, nil
	case resp.Detail == wire.DetailAlreadyActive:
		return info, ErrAlreadyActive
	case resp.Detail == wire.DetailBadCredential:
		return LoginInfo{}, ErrBadCredential
	case resp.Detail == wire.DetailNoSuchAccount:
		return LoginInfo{}, ErrNoSuchAccount
	default:
		return LoginInfo{}, fmt.Errorf("%w: %s/%s", ErrProtocol, resp.Status, resp.Detail)
	}
}

// Logout marks the account offline. The directory tolerates unknown
// usernames, so the only failures here are transport ones.
func (c *Client) Logout(ctx context.Context, username string) error {
	resp, err := c.do(ctx, &wire.Request{
		Cmd:      wire.CmdLogout,
		Username: username,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s/%s", ErrProtocol, resp.Status, resp.Detail)
	}
	return nil
}

// Heartbeat refreshes presence and credits the experience delta,
// returning the account's current experience.
func (c *Client) Heartbeat(ctx context.Context, username string, deltaXP int64) (int64, error) {
	resp, err := c.do(ctx, &wire.Request{
		Cmd:      wire.CmdHeartbeat,
		Username: username,
		Extra:    &wire.RequestExtra{XP: deltaXP},
	})
	if err != nil {
		return 0, err
	}
	if resp.OK() {
		return resp.Experience, nil
	}
	if resp.Detail == wire.DetailNoSuchAccount {
		return 0, ErrNoSuchAccount
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrProtocol, resp.Status, resp.Detail)
}

// IsOnline reports the presence bit for any username. Unknown
// usernames read as offline.
func (c *Client) IsOnline(ctx context.Context, username string) (bool, error) {
	resp, err := c.do(ctx, &wire.Request{
		Cmd:      wire.CmdOnlineStatus,
		Username: username,
	})
	if err != nil {
		return false, err
	}
	if !resp.OK() || resp.Online == nil {
		return false, fmt.Errorf("%w: %s/%s", ErrProtocol, resp.Status, resp.Detail)
	}
	return *resp.Online, nil
}
