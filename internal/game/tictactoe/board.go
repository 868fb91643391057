// Package tictactoe implements the authoritative two-player board game
// engine: session state machine, move validation, win detection, broadcast
// to session subscribers and the capped daily win award.
package tictactoe

import "fmt"

// Board size.
const Size = 3

// Cell marks. The empty cell and both player marks are single bytes so a
// board round-trips as a 9-character string.
const (
	Empty = byte('-')
	MarkA = byte('X')
	MarkB = byte('O')
)

// Board is the 3×3 grid in row-major order.
type Board [Size * Size]byte

// NewBoard returns an empty board.
func NewBoard() Board {
	var b Board
	for i := range b {
		b[i] = Empty
	}
	return b
}

// ParseBoard restores a board from its 9-character string form.
func ParseBoard(s string) (Board, error) {
	var b Board
	if len(s) != len(b) {
		return b, fmt.Errorf("board string must be %d characters, got %d", len(b), len(s))
	}
	for i := 0; i < len(b); i++ {
		c := s[i]
		if c != Empty && c != MarkA && c != MarkB {
			return b, fmt.Errorf("invalid board cell %q at %d", c, i)
		}
		b[i] = c
	}
	return b, nil
}

// String returns the 9-character row-major form.
func (b Board) String() string {
	return string(b[:])
}

// InBounds reports whether the coordinates address a cell.
func InBounds(row, col int) bool {
	return row >= 0 && row < Size && col >= 0 && col < Size
}

// Cell returns the mark at the given coordinates.
func (b Board) Cell(row, col int) byte {
	return b[row*Size+col]
}

// set places a mark. Callers validate bounds and emptiness first.
func (b *Board) set(row, col int, mark byte) {
	b[row*Size+col] = mark
}

// MarkCount returns the number of non-empty cells. Turn parity is derived
// from this count: an even count means the first player moves next.
func (b Board) MarkCount() int {
	n := 0
	for _, c := range b {
		if c != Empty {
			n++
		}
	}
	return n
}

// Full reports whether all nine cells are marked.
func (b Board) Full() bool {
	return b.MarkCount() == len(b)
}

// winLines are the 8 canonical winning lines: 3 rows, 3 columns,
// 2 diagonals, as cell indexes.
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Winner returns the winning mark, if any line holds three identical
// non-empty marks. At most one mark can have a completed line because only
// one mark is placed per move.
func (b Board) Winner() (byte, bool) {
	for _, line := range winLines {
		m := b[line[0]]
		if m != Empty && m == b[line[1]] && m == b[line[2]] {
			return m, true
		}
	}
	return Empty, false
}
