package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/session"
	"github.com/arcadenet/lanlobby/internal/wire"
)

var (
	// ErrUnreachable is returned when an invited peer never answers.
	ErrUnreachable = errors.New("peer unreachable")

	// ErrDeclined is returned when the invited peer refuses.
	ErrDeclined = errors.New("invite declined")

	// ErrRoundsExhausted is returned when the bounded retry budget for
	// discovery rounds runs out.
	ErrRoundsExhausted = errors.New("discovery rounds exhausted")
)

// Peer is a responder that answered a probe round as available. Name
// is the account the responder identified itself as; the directory
// remains the authority on its presence.
type Peer struct {
	Name string
	Addr *net.UDPAddr
}

func (p Peer) String() string {
	if p.Name == "" {
		return p.Addr.String()
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Addr)
}

// Selector picks one peer from a non-empty discovery result. The
// choice is external to the protocol: interactive sessions prompt the
// user, tests pick by policy.
type Selector func(peers []Peer) (int, error)

// BackoffConfig bounds retries of failed discovery rounds.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxRounds    int // 0 = unlimited
}

// DefaultBackoffConfig returns sensible defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxRounds:    0,
	}
}

// InitiatorConfig contains discovery settings for the inviting side.
type InitiatorConfig struct {
	// Username identifies the inviter in probe and invite datagrams.
	Username string

	// ProbeTimeout is the per-candidate wait for a PROBE_ACK.
	ProbeTimeout time.Duration

	// InviteTimeout is the wait for an INVITE_RESPONSE.
	InviteTimeout time.Duration

	// HandoffTimeout bounds the wait for the accepted peer's inbound
	// session connection after CONNECT_INFO is sent.
	HandoffTimeout time.Duration

	// ProbeRate paces outgoing probes in datagrams per second.
	// Zero disables pacing.
	ProbeRate float64

	// Backoff bounds retries of empty or rejected rounds.
	Backoff BackoffConfig
}

// DefaultInitiatorConfig returns sensible defaults.
func DefaultInitiatorConfig() InitiatorConfig {
	return InitiatorConfig{
		ProbeTimeout:   500 * time.Millisecond,
		InviteTimeout:  10 * time.Second,
		HandoffTimeout: 30 * time.Second,
		ProbeRate:      50,
		Backoff:        DefaultBackoffConfig(),
	}
}

// Initiator drives the probe → invite → handoff sequence. Every round
// uses a fresh nonce; datagrams that do not correlate are dropped.
type Initiator struct {
	cfg     InitiatorConfig
	enum    CandidateEnumerator
	conn    *net.UDPConn
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewInitiator binds an ephemeral UDP socket for the discovery
// exchange.
func NewInitiator(cfg InitiatorConfig, enum CandidateEnumerator, logger *slog.Logger) (*Initiator, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.ProbeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1)
	}

	return &Initiator{
		cfg:     cfg,
		enum:    enum,
		conn:    conn,
		limiter: limiter,
		logger:  logger.With(slog.String(logging.KeyComponent, "initiator")),
	}, nil
}

// Close releases the discovery socket.
func (i *Initiator) Close() error {
	return i.conn.Close()
}

// DiscoverRound scans the full candidate space once under a fresh
// nonce and returns every available responder that answered. Late acks
// from earlier candidates still count as long as the nonce matches.
func (i *Initiator) DiscoverRound(ctx context.Context) (string, []Peer, error) {
	nonce := uuid.NewString()
	candidates := i.enum.Candidates()

	var peers []Peer
	seen := make(map[string]bool)

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nonce, nil, err
		}
		if err := i.limiter.Wait(ctx); err != nil {
			return nonce, nil, err
		}

		to, err := cand.UDPAddr()
		if err != nil {
			i.logger.Debug("skipping unresolvable candidate",
				logging.KeyCandidate, cand.Addr(),
				logging.KeyError, err)
			continue
		}

		probe := &wire.Datagram{Type: wire.TypeProbe, Nonce: nonce, From: i.cfg.Username}
		if err := writeDatagram(i.conn, to, probe); err != nil {
			i.logger.Debug("probe send failed",
				logging.KeyCandidate, cand.Addr(),
				logging.KeyError, err)
			continue
		}

		deadline := time.Now().Add(i.cfg.ProbeTimeout)
		for {
			d, from, err := readDatagram(i.conn, deadline)
			if err != nil {
				if isTimeout(err) {
					break
				}
				if wire.IsDecodeError(err) {
					continue
				}
				return nonce, nil, fmt.Errorf("probe receive: %w", err)
			}
			if d.Type != wire.TypeProbeAck || d.Nonce != nonce {
				continue
			}
			if d.Status != wire.ProbeAvailable {
				continue
			}
			if !seen[from.String()] {
				seen[from.String()] = true
				peers = append(peers, Peer{Name: d.From, Addr: from})
				i.logger.Info("found available peer",
					logging.KeyUsername, d.From,
					logging.KeyCandidate, from.String())
			}
		}
	}

	return nonce, peers, nil
}

// Invite asks one discovered peer for consent. It returns ErrDeclined
// on refusal and ErrUnreachable when no correlated response arrives
// within the invite timeout.
func (i *Initiator) Invite(ctx context.Context, peer Peer, nonce string) error {
	invite := &wire.Datagram{Type: wire.TypeInvite, Nonce: nonce, From: i.cfg.Username}
	if err := writeDatagram(i.conn, peer.Addr, invite); err != nil {
		return fmt.Errorf("invite send: %w", err)
	}

	deadline := time.Now().Add(i.cfg.InviteTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, from, err := readDatagram(i.conn, deadline)
		if err != nil {
			if isTimeout(err) {
				return ErrUnreachable
			}
			if wire.IsDecodeError(err) {
				continue
			}
			return fmt.Errorf("invite receive: %w", err)
		}
		if d.Type != wire.TypeInviteResponse || d.Nonce != nonce || from.String() != peer.Addr.String() {
			continue
		}
		if d.Response == wire.InviteAccept {
			return nil
		}
		return ErrDeclined
	}
}

// Run executes the whole discovery state machine: probe rounds with
// bounded exponential backoff, external selection, consent, and the
// listener handoff. On success the accepted peer has connected and the
// returned transport is live.
func (i *Initiator) Run(ctx context.Context, selector Selector, listenCfg session.ListenConfig, advertiseAddr string) (session.Transport, Peer, error) {
	backoff := newBackoff(i.cfg.Backoff)

	for round := 0; ; round++ {
		if i.cfg.Backoff.MaxRounds > 0 && round >= i.cfg.Backoff.MaxRounds {
			return nil, Peer{}, ErrRoundsExhausted
		}
		if round > 0 {
			if err := backoff.sleep(ctx); err != nil {
				return nil, Peer{}, err
			}
		}

		nonce, peers, err := i.DiscoverRound(ctx)
		if err != nil {
			return nil, Peer{}, err
		}
		if len(peers) == 0 {
			i.logger.Info("no available peers, retrying")
			continue
		}

		idx, err := selector(peers)
		if err != nil {
			return nil, Peer{}, err
		}
		peer := peers[idx]

		if err := i.Invite(ctx, peer, nonce); err != nil {
			if errors.Is(err, ErrDeclined) || errors.Is(err, ErrUnreachable) {
				i.logger.Info("invite not accepted, restarting discovery",
					logging.KeyCandidate, peer.String(),
					logging.KeyError, err)
				continue
			}
			return nil, Peer{}, err
		}

		transport, err := i.handoff(ctx, peer, nonce, listenCfg, advertiseAddr)
		if err != nil {
			if errors.Is(err, session.ErrNoFreePort) {
				// Port exhaustion is fatal to the attempt, not retriable.
				return nil, Peer{}, err
			}
			i.logger.Warn("handoff failed, restarting discovery",
				logging.KeyCandidate, peer.String(),
				logging.KeyError, err)
			continue
		}
		return transport, peer, nil
	}
}

// handoff opens the session listener, advertises it via CONNECT_INFO,
// and waits for the accepted peer to connect.
func (i *Initiator) handoff(ctx context.Context, peer Peer, nonce string, listenCfg session.ListenConfig, advertiseAddr string) (session.Transport, error) {
	listener, err := session.Listen(listenCfg)
	if err != nil {
		return nil, err
	}

	info := &wire.Datagram{
		Type:      wire.TypeConnectInfo,
		Nonce:     nonce,
		IP:        advertiseAddr,
		Port:      listener.Port(),
		Transport: listenCfg.Kind,
	}
	if err := writeDatagram(i.conn, peer.Addr, info); err != nil {
		listener.Close()
		return nil, fmt.Errorf("connect info send: %w", err)
	}

	i.logger.Info("sent connect info, waiting for peer",
		logging.KeyCandidate, peer.String(),
		logging.KeyTransport, listenCfg.Kind,
		logging.KeyLocalAddr, fmt.Sprintf("%s:%d", advertiseAddr, listener.Port()))

	acceptCtx := ctx
	if i.cfg.HandoffTimeout > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, i.cfg.HandoffTimeout)
		defer cancel()
	}

	transport, err := listener.Accept(acceptCtx)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("accept session: %w", err)
	}
	listener.Close()
	return transport, nil
}
