package directory

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/metrics"
	"github.com/arcadenet/lanlobby/internal/wire"
)

// ServerStats is a point-in-time view of the server for the health
// endpoint.
type ServerStats struct {
	Accounts    int `json:"accounts"`
	Online      int `json:"online"`
	Connections int `json:"connections"`
}

// Server accepts directory protocol connections and runs one session
// handler per client. Handlers are supervised: Stop closes the
// listener and every open connection, then joins all handler
// goroutines.
type Server struct {
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	listener net.Listener
	running  atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a directory server over the given store.
func NewServer(store *Store, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Server{
		store:   store,
		logger:  logger.With(slog.String(logging.KeyComponent, "dirserver")),
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and launches the accept loop. A bind
// failure here is the one unrecoverable startup error of the daemon.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("directory listening", logging.KeyAddress, ln.Addr().String())
	return nil
}

// Stop closes the listener and all open connections, then waits for
// every session handler to unwind.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Swap(false) {
		return nil
	}

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats returns server statistics for the health endpoint.
func (s *Server) Stats() ServerStats {
	storeStats := s.store.Stats()

	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	return ServerStats{
		Accounts:    storeStats.Accounts,
		Online:      storeStats.Online,
		Connections: conns,
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("accept failed", logging.KeyError, err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs the per-connection session loop: decode one request
// per line, dispatch, encode one response, in strict order. The first
// successfully bound username sticks to the connection so an abrupt
// disconnect can deterministically mark that account offline.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.metrics.ConnectionsActive.Dec()
	}()

	logger := s.logger.With(logging.KeyRemoteAddr, conn.RemoteAddr().String())
	decoder := wire.NewDecoder(conn)
	encoder := wire.NewEncoder(conn)

	var boundUser string

	for {
		var req wire.Request
		if err := decoder.Decode(&req); err != nil {
			if wire.IsDecodeError(err) {
				// Malformed input is answered, not fatal.
				s.metrics.BadRequestsTotal.Inc()
				if werr := encoder.Encode(&wire.Response{Status: wire.StatusErr, Detail: wire.DetailBadRequest}); werr != nil {
					return
				}
				continue
			}
			if boundUser != "" {
				logger.Info("connection lost, marking offline", logging.KeyUsername, boundUser)
				s.store.Logout(boundUser)
			}
			return
		}

		resp, bound := s.dispatch(&req)
		if boundUser == "" && bound != "" {
			boundUser = bound
		}

		s.metrics.RequestsTotal.WithLabelValues(req.Cmd, resp.Status).Inc()
		logger.Debug("request handled",
			logging.KeyCommand, req.Cmd,
			logging.KeyUsername, req.Username,
			logging.KeyDetail, resp.Detail)

		if err := encoder.Encode(resp); err != nil {
			if boundUser != "" {
				s.store.Logout(boundUser)
			}
			return
		}
	}
}

// dispatch executes one request against the store and returns the
// response plus the username to bind to the connection, if any.
func (s *Server) dispatch(req *wire.Request) (*wire.Response, string) {
	switch req.Cmd {
	case wire.CmdRegister:
		if err := s.store.Register(req.Username, req.Credential); err != nil {
			return &wire.Response{Status: wire.StatusErr, Detail: wire.DetailAlreadyExists}, ""
		}
		return &wire.Response{Status: wire.StatusOK, Detail: wire.DetailRegistered}, req.Username

	case wire.CmdLogin:
		result, err := s.store.Login(req.Username, req.Credential)
		switch err {
		case nil:
			return &wire.Response{
				Status:     wire.StatusOK,
				Detail:     wire.DetailLoggedIn,
				LoginCount: result.LoginCount,
				Experience: result.Experience,
			}, req.Username
		case ErrAlreadyActive:
			return &wire.Response{
				Status:     wire.StatusTaken,
				Detail:     wire.DetailAlreadyActive,
				LoginCount: result.LoginCount,
				Experience: result.Experience,
			}, ""
		case ErrBadCredential:
			return &wire.Response{Status: wire.StatusErr, Detail: wire.DetailBadCredential}, ""
		default:
			return &wire.Response{Status: wire.StatusErr, Detail: wire.DetailNoSuchAccount}, ""
		}

	case wire.CmdLogout:
		s.store.Logout(req.Username)
		return &wire.Response{Status: wire.StatusOK, Detail: wire.DetailLoggedOut}, ""

	case wire.CmdHeartbeat:
		var delta int64
		if req.Extra != nil {
			delta = req.Extra.XP
		}
		xp, err := s.store.Heartbeat(req.Username, delta)
		if err != nil {
			return &wire.Response{Status: wire.StatusErr, Detail: wire.DetailNoSuchAccount}, ""
		}
		return &wire.Response{
			Status:     wire.StatusOK,
			Detail:     wire.DetailStatusUpdated,
			Experience: xp,
		}, ""

	case wire.CmdOnlineStatus:
		online := s.store.IsOnline(req.Username)
		return &wire.Response{Status: wire.StatusOK, Online: &online}, ""

	default:
		return &wire.Response{Status: wire.StatusErr, Detail: wire.DetailUnknownCommand}, ""
	}
}
