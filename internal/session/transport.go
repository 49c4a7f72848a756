// Package session provides the direct peer-to-peer session layer: the
// ordered message transport established after rendezvous, and the
// liveness monitor that watches the remote peer's directory presence.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"github.com/arcadenet/lanlobby/internal/wire"
)

// Transport kinds.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// wsPath is the HTTP path for WebSocket session upgrades.
const wsPath = "/session"

// ErrNoFreePort is returned when every port in the configured listen
// range is taken.
var ErrNoFreePort = errors.New("no free port in configured range")

// Transport is an ordered, reliable, bidirectional message channel
// between two peers. Messages are JSON values framed one per line.
type Transport interface {
	// Send writes one message.
	Send(v any) error

	// Receive reads the next message into v, blocking until one
	// arrives or the transport fails.
	Receive(v any) error

	// Close tears the transport down. Safe to call concurrently with
	// a blocked Receive, which then fails.
	Close() error

	// RemoteAddr returns the peer's address.
	RemoteAddr() net.Addr
}

// lineConn adapts any net.Conn to the line-framed Transport. The
// WebSocket variant goes through websocket.NetConn so both transports
// share this one code path.
type lineConn struct {
	nc  net.Conn
	enc *wire.Encoder
	dec *wire.Decoder
}

func newLineConn(nc net.Conn) *lineConn {
	return &lineConn{
		nc:  nc,
		enc: wire.NewEncoder(nc),
		dec: wire.NewDecoder(nc),
	}
}

func (c *lineConn) Send(v any) error {
	return c.enc.Encode(v)
}

func (c *lineConn) Receive(v any) error {
	return c.dec.Decode(v)
}

func (c *lineConn) Close() error {
	return c.nc.Close()
}

func (c *lineConn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// ListenConfig contains session listener settings.
type ListenConfig struct {
	// Kind selects the transport: tcp or ws.
	Kind string

	// Host is the local bind host. Empty binds all interfaces.
	Host string

	// PortMin and PortMax bound the inclusive port range. Binding
	// retries the next port on conflict.
	PortMin int
	PortMax int
}

// Listener waits for exactly one inbound session connection.
type Listener struct {
	kind   string
	port   int
	tcpLn  net.Listener
	httpSv *http.Server
	connCh chan net.Conn
}

// Listen binds the first free port in the configured range.
func Listen(cfg ListenConfig) (*Listener, error) {
	var ln net.Listener
	var port int
	var lastErr error
	for p := cfg.PortMin; p <= cfg.PortMax; p++ {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(p))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		ln, port = l, p
		break
	}
	if ln == nil {
		return nil, fmt.Errorf("%w [%d, %d]: %v", ErrNoFreePort, cfg.PortMin, cfg.PortMax, lastErr)
	}

	l := &Listener{
		kind:   cfg.Kind,
		port:   port,
		tcpLn:  ln,
		connCh: make(chan net.Conn, 1),
	}

	if cfg.Kind == TransportWS {
		mux := http.NewServeMux()
		mux.HandleFunc(wsPath, l.serveWS)
		l.httpSv = &http.Server{Handler: mux}
		go l.httpSv.Serve(ln)
	}

	return l, nil
}

// Port returns the bound port, advertised to the peer in CONNECT_INFO.
func (l *Listener) Port() int {
	return l.port
}

// Accept blocks until one peer connects, then stops accepting. The
// context bounds the wait.
func (l *Listener) Accept(ctx context.Context) (Transport, error) {
	if l.kind == TransportWS {
		select {
		case nc := <-l.connCh:
			return newLineConn(nc), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := l.tcpLn.Accept()
		resCh <- result{conn, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		return newLineConn(res.conn), nil
	case <-ctx.Done():
		l.tcpLn.Close()
		return nil, ctx.Err()
	}
}

// Close releases the listener.
func (l *Listener) Close() error {
	if l.httpSv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return l.httpSv.Shutdown(ctx)
	}
	return l.tcpLn.Close()
}

func (l *Listener) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	// Accept hijacks the connection, so the websocket outlives this
	// handler.
	nc := websocket.NetConn(context.Background(), c, websocket.MessageText)
	select {
	case l.connCh <- nc:
	default:
		c.Close(websocket.StatusPolicyViolation, "session already established")
	}
}

// Dial connects out to a listening peer.
func Dial(ctx context.Context, kind, address string) (Transport, error) {
	switch kind {
	case TransportWS:
		c, _, err := websocket.Dial(ctx, "ws://"+address+wsPath, nil)
		if err != nil {
			return nil, fmt.Errorf("dial ws session: %w", err)
		}
		return newLineConn(websocket.NetConn(context.Background(), c, websocket.MessageText)), nil
	case TransportTCP, "":
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("dial tcp session: %w", err)
		}
		return newLineConn(conn), nil
	default:
		return nil, fmt.Errorf("unknown session transport: %s", kind)
	}
}
