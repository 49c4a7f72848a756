package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/session"
	"github.com/arcadenet/lanlobby/internal/wire"
)

// ErrNoFreePort is returned when every rendezvous port in the
// configured range is taken.
var ErrNoFreePort = errors.New("no free rendezvous port in configured range")

// pollInterval is the read-deadline granularity of responder loops.
// It bounds how long a cancelled context can go unnoticed.
const pollInterval = 1 * time.Second

// Consent decides whether to accept an invite from the named account.
// Interactive sessions prompt the user.
type Consent func(inviter string) bool

// ResponderConfig contains settings for the invited side.
type ResponderConfig struct {
	// Username identifies the responder in probe acks.
	Username string

	// Host is the local bind host. Empty binds all interfaces.
	Host string

	// PortMin and PortMax bound the inclusive rendezvous port range.
	PortMin int
	PortMax int

	// ConnectInfoTimeout is the wait for CONNECT_INFO after accepting
	// an invite. Expiry abandons the handshake and resumes listening.
	ConnectInfoTimeout time.Duration

	// DialTimeout bounds the session dial once CONNECT_INFO arrives.
	DialTimeout time.Duration
}

// DefaultResponderConfig returns sensible defaults.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		PortMin:            17000,
		PortMax:            17010,
		ConnectInfoTimeout: 10 * time.Second,
		DialTimeout:        10 * time.Second,
	}
}

// Responder answers probes and invites on a well-known rendezvous
// port. Multiple responders on one machine each claim a different port
// in the range, which is exactly what initiators scan.
type Responder struct {
	cfg    ResponderConfig
	conn   *net.UDPConn
	logger *slog.Logger
}

// NewResponder binds the first free port in the configured range.
func NewResponder(cfg ResponderConfig, logger *slog.Logger) (*Responder, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var conn *net.UDPConn
	var lastErr error
	for p := cfg.PortMin; p <= cfg.PortMax; p++ {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(p)))
		if err != nil {
			lastErr = err
			continue
		}
		c, err := net.ListenUDP("udp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		conn = c
		break
	}
	if conn == nil {
		return nil, fmt.Errorf("%w [%d, %d]: %v", ErrNoFreePort, cfg.PortMin, cfg.PortMax, lastErr)
	}

	logger = logger.With(slog.String(logging.KeyComponent, "responder"))
	logger.Info("listening for rendezvous", logging.KeyLocalAddr, conn.LocalAddr().String())

	return &Responder{cfg: cfg, conn: conn, logger: logger}, nil
}

// Port returns the bound rendezvous port.
func (r *Responder) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the rendezvous socket.
func (r *Responder) Close() error {
	return r.conn.Close()
}

// WaitForSession listens until an invite is accepted and the session
// handshake completes. It returns the established transport and the
// inviter's account name. Probes are answered as available while
// waiting. Abandoned handshakes (consent given but no CONNECT_INFO, or
// a failed dial) resume listening rather than failing the call.
func (r *Responder) WaitForSession(ctx context.Context, consent Consent) (session.Transport, string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		d, from, err := readDatagram(r.conn, time.Now().Add(pollInterval))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if wire.IsDecodeError(err) {
				r.logger.Debug("dropping undecodable datagram",
					logging.KeyRemoteAddr, from.String(),
					logging.KeyError, err)
				continue
			}
			return nil, "", fmt.Errorf("rendezvous receive: %w", err)
		}

		switch d.Type {
		case wire.TypeProbe:
			r.reply(from, &wire.Datagram{
				Type:   wire.TypeProbeAck,
				Nonce:  d.Nonce,
				From:   r.cfg.Username,
				Status: wire.ProbeAvailable,
			})

		case wire.TypeInvite:
			r.logger.Info("invite received",
				logging.KeyUsername, d.From,
				logging.KeyRemoteAddr, from.String())
			if !consent(d.From) {
				r.reply(from, &wire.Datagram{
					Type:     wire.TypeInviteResponse,
					Nonce:    d.Nonce,
					From:     r.cfg.Username,
					Response: wire.InviteDecline,
				})
				continue
			}
			r.reply(from, &wire.Datagram{
				Type:     wire.TypeInviteResponse,
				Nonce:    d.Nonce,
				From:     r.cfg.Username,
				Response: wire.InviteAccept,
			})

			transport, err := r.awaitConnectInfo(ctx, d.Nonce, from)
			if err != nil {
				if ctx.Err() != nil {
					return nil, "", ctx.Err()
				}
				r.logger.Warn("handshake abandoned, resuming listen",
					logging.KeyUsername, d.From,
					logging.KeyError, err)
				continue
			}
			return transport, d.From, nil

		default:
			r.logger.Debug("ignoring unexpected datagram",
				logging.KeyDetail, d.Type,
				logging.KeyRemoteAddr, from.String())
		}
	}
}

// awaitConnectInfo waits for the inviter's CONNECT_INFO and dials the
// advertised session endpoint. Probes that arrive mid-handshake get a
// busy ack so other initiators move on.
func (r *Responder) awaitConnectInfo(ctx context.Context, nonce string, inviter *net.UDPAddr) (session.Transport, error) {
	deadline := time.Now().Add(r.cfg.ConnectInfoTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, from, err := readDatagram(r.conn, deadline)
		if err != nil {
			if isTimeout(err) {
				return nil, errors.New("no connect info before deadline")
			}
			if wire.IsDecodeError(err) {
				continue
			}
			return nil, fmt.Errorf("rendezvous receive: %w", err)
		}

		switch {
		case d.Type == wire.TypeConnectInfo && d.Nonce == nonce && from.String() == inviter.String():
			address := net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
			dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
			transport, err := session.Dial(dialCtx, d.Transport, address)
			cancel()
			if err != nil {
				return nil, err
			}
			r.logger.Info("session established",
				logging.KeyTransport, d.Transport,
				logging.KeyAddress, address)
			return transport, nil

		case d.Type == wire.TypeProbe:
			r.reply(from, &wire.Datagram{
				Type:   wire.TypeProbeAck,
				Nonce:  d.Nonce,
				From:   r.cfg.Username,
				Status: wire.ProbeBusy,
			})

		default:
			// Stale or uncorrelated traffic.
		}
	}
}

// ServeProbes answers rendezvous traffic while a session is active:
// probes get a busy ack, invites a decline. It runs until the context
// is cancelled or the socket is closed.
func (r *Responder) ServeProbes(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		d, from, err := readDatagram(r.conn, time.Now().Add(pollInterval))
		if err != nil {
			if isTimeout(err) || wire.IsDecodeError(err) {
				continue
			}
			return
		}

		switch d.Type {
		case wire.TypeProbe:
			r.reply(from, &wire.Datagram{
				Type:   wire.TypeProbeAck,
				Nonce:  d.Nonce,
				From:   r.cfg.Username,
				Status: wire.ProbeBusy,
			})
		case wire.TypeInvite:
			r.reply(from, &wire.Datagram{
				Type:     wire.TypeInviteResponse,
				Nonce:    d.Nonce,
				From:     r.cfg.Username,
				Response: wire.InviteDecline,
			})
		}
	}
}

func (r *Responder) reply(to *net.UDPAddr, d *wire.Datagram) {
	if err := writeDatagram(r.conn, to, d); err != nil {
		r.logger.Debug("reply send failed",
			logging.KeyRemoteAddr, to.String(),
			logging.KeyError, err)
	}
}
