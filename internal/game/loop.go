package game

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/session"
	"github.com/arcadenet/lanlobby/internal/wire"
)

var (
	// ErrPeerLost is returned when the transport fails mid-game.
	ErrPeerLost = errors.New("peer connection lost")

	// ErrTerminated is returned when the liveness monitor observed the
	// opponent offline before the game concluded.
	ErrTerminated = errors.New("session terminated")
)

// MoveProvider supplies the local player's move for the given board.
// Implementations prompt the user; tests script the answers. The
// returned position must be open.
type MoveProvider func(board Board, mark string) (int, error)

// Terminator reports whether the session has been torn down out of
// band. The liveness monitor implements it.
type Terminator interface {
	Terminated() bool
}

// neverTerminated is the Terminator used when no monitor is wired.
type neverTerminated struct{}

func (neverTerminated) Terminated() bool { return false }

// Game runs one match over an established session transport.
type Game struct {
	transport session.Transport
	provider  MoveProvider
	term      Terminator
	logger    *slog.Logger

	// OnBoard runs whenever the board is about to be shown to the
	// local player.
	OnBoard func(board Board)
}

// New creates a game over the given transport. A nil term disables the
// out-of-band termination check.
func New(transport session.Transport, provider MoveProvider, term Terminator, logger *slog.Logger) *Game {
	if term == nil {
		term = neverTerminated{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Game{
		transport: transport,
		provider:  provider,
		term:      term,
		logger:    logger.With(slog.String(logging.KeyComponent, "game")),
	}
}

// RunHost plays the hosting side: X, moving first. The host owns the
// authoritative board, requests the guest's moves over the transport,
// and announces the result. The returned outcome is from the host's
// perspective.
func (g *Game) RunHost(hostName, guestName string) (Outcome, error) {
	board := NewBoard()

	start := &wire.GameMessage{
		Type:      wire.TypeGameStart,
		You:       MarkO,
		Opponent:  hostName,
		Board:     board,
		FirstTurn: MarkX,
	}
	if err := g.transport.Send(start); err != nil {
		return InProgress, fmt.Errorf("%w: %v", ErrPeerLost, err)
	}

	turn := MarkX
	for {
		if g.term.Terminated() {
			return InProgress, ErrTerminated
		}

		if turn == MarkX {
			if err := g.localMove(board, MarkX); err != nil {
				return InProgress, err
			}
		} else {
			if err := g.remoteMove(board, guestName); err != nil {
				return InProgress, err
			}
		}

		switch board.Evaluate() {
		case XWins:
			g.announce(wire.ResultLose, board)
			return XWins, nil
		case OWins:
			g.announce(wire.ResultWin, board)
			return OWins, nil
		case Draw:
			g.announce(wire.ResultDraw, board)
			return Draw, nil
		}

		if turn == MarkX {
			turn = MarkO
		} else {
			turn = MarkX
		}
	}
}

// localMove shows the board and applies the host's own move.
func (g *Game) localMove(board Board, mark string) error {
	if g.OnBoard != nil {
		g.OnBoard(board)
	}
	pos, err := g.provider(board, mark)
	if err != nil {
		return err
	}
	return board.Apply(pos, mark)
}

// remoteMove requests and applies the guest's move. Malformed or
// invalid replies forfeit the guest's turn, matching the host's role
// as sole arbiter.
func (g *Game) remoteMove(board Board, guestName string) error {
	req := &wire.GameMessage{Type: wire.TypeMoveReq, Board: board}
	if err := g.transport.Send(req); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerLost, err)
	}

	var msg wire.GameMessage
	if err := g.transport.Receive(&msg); err != nil {
		if g.term.Terminated() {
			return ErrTerminated
		}
		return fmt.Errorf("%w: %v", ErrPeerLost, err)
	}
	if msg.Type != wire.TypeMove || !board.Open(msg.Pos) {
		g.logger.Warn("discarding invalid guest move",
			logging.KeyUsername, guestName,
			logging.KeyDetail, msg.Type)
		return nil
	}
	return board.Apply(msg.Pos, MarkO)
}

// announce sends GAME_END with the result phrased for the guest.
func (g *Game) announce(guestResult string, board Board) {
	end := &wire.GameMessage{Type: wire.TypeGameEnd, Result: guestResult, Board: board}
	if err := g.transport.Send(end); err != nil {
		g.logger.Debug("result announcement failed", logging.KeyError, err)
	}
}

// RunGuest plays the invited side: it reacts to the host's messages
// until GAME_END arrives. The returned result string is from the
// guest's perspective as announced by the host.
func (g *Game) RunGuest() (string, error) {
	for {
		if g.term.Terminated() {
			return "", ErrTerminated
		}

		var msg wire.GameMessage
		if err := g.transport.Receive(&msg); err != nil {
			if g.term.Terminated() {
				return "", ErrTerminated
			}
			return "", fmt.Errorf("%w: %v", ErrPeerLost, err)
		}

		switch msg.Type {
		case wire.TypeGameStart:
			g.logger.Info("game started",
				logging.KeyUsername, msg.Opponent,
				logging.KeyDetail, msg.You)

		case wire.TypeMoveReq:
			board := Board(msg.Board)
			if len(board) != Cells {
				board = NewBoard()
			}
			if g.OnBoard != nil {
				g.OnBoard(board)
			}
			pos, err := g.provider(board, MarkO)
			if err != nil {
				return "", err
			}
			move := &wire.GameMessage{Type: wire.TypeMove, Pos: pos}
			if err := g.transport.Send(move); err != nil {
				return "", fmt.Errorf("%w: %v", ErrPeerLost, err)
			}

		case wire.TypeGameEnd:
			if g.OnBoard != nil && len(msg.Board) == Cells {
				g.OnBoard(Board(msg.Board))
			}
			return msg.Result, nil

		default:
			g.logger.Debug("ignoring unexpected session message",
				logging.KeyDetail, msg.Type)
		}
	}
}
