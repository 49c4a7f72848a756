// Package game implements the tic-tac-toe played over an established
// peer session: the board arbiter and the host/guest message loops.
package game

import (
	"errors"
	"fmt"
)

// Marks.
const (
	MarkX = "X"
	MarkO = "O"
)

// Cells is the number of board positions.
const Cells = 9

// Board holds the nine cells in row-major order. Empty string means
// unclaimed.
type Board []string

// NewBoard returns an empty board.
func NewBoard() Board {
	return make(Board, Cells)
}

// ErrInvalidMove is returned for out-of-range or occupied positions.
var ErrInvalidMove = errors.New("invalid move")

// Apply claims a position for a mark.
func (b Board) Apply(pos int, mark string) error {
	if pos < 0 || pos >= Cells {
		return fmt.Errorf("%w: position %d out of range", ErrInvalidMove, pos)
	}
	if b[pos] != "" {
		return fmt.Errorf("%w: position %d already taken", ErrInvalidMove, pos)
	}
	b[pos] = mark
	return nil
}

// Open reports whether a position can still be claimed.
func (b Board) Open(pos int) bool {
	return pos >= 0 && pos < Cells && b[pos] == ""
}

// Outcome is the arbiter's verdict on a board.
type Outcome int

const (
	InProgress Outcome = iota
	XWins
	OWins
	Draw
)

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Evaluate arbitrates the board.
func (b Board) Evaluate() Outcome {
	for _, ln := range winLines {
		m := b[ln[0]]
		if m != "" && m == b[ln[1]] && m == b[ln[2]] {
			if m == MarkX {
				return XWins
			}
			return OWins
		}
	}
	for _, cell := range b {
		if cell == "" {
			return InProgress
		}
	}
	return Draw
}
