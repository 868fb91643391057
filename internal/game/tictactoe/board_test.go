package tictactoe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewBoardEmpty(t *testing.T) {
	b := NewBoard()
	assert.Equal(t, "---------", b.String())
	assert.Equal(t, 0, b.MarkCount())
	assert.False(t, b.Full())

	_, won := b.Winner()
	assert.False(t, won)
}

func TestParseBoard(t *testing.T) {
	b, err := ParseBoard("X-O-X-O-X")
	require.NoError(t, err)
	assert.Equal(t, "X-O-X-O-X", b.String())
	assert.Equal(t, 5, b.MarkCount())
}

func TestParseBoardRejectsBadInput(t *testing.T) {
	_, err := ParseBoard("X-O")
	assert.Error(t, err)

	_, err = ParseBoard("X-O-Z-O-X")
	assert.Error(t, err)
}

func TestWinnerAllLines(t *testing.T) {
	tests := []struct {
		name  string
		board string
		mark  byte
	}{
		{"top row", "XXX-OO---", MarkA},
		{"middle row", "O-OXXX---", MarkA},
		{"bottom row", "-OO---XXX", MarkA},
		{"left column", "XO-X-OX--", MarkA},
		{"middle column", "OX--X-OX-", MarkA},
		{"right column", "-OX--X--X", MarkA},
		{"main diagonal", "XO--XO--X", MarkA},
		{"anti diagonal", "-OX-X-X-O", MarkA},
		{"opponent row", "XX-OOO-X-", MarkB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBoard(tt.board)
			require.NoError(t, err)

			mark, won := b.Winner()
			require.True(t, won)
			assert.Equal(t, tt.mark, mark)
		})
	}
}

func TestNoWinnerOnDraw(t *testing.T) {
	b, err := ParseBoard("XOXXOOOXX")
	require.NoError(t, err)

	_, won := b.Winner()
	assert.False(t, won)
	assert.True(t, b.Full())
}

func TestInBounds(t *testing.T) {
	assert.True(t, InBounds(0, 0))
	assert.True(t, InBounds(2, 2))
	assert.False(t, InBounds(-1, 0))
	assert.False(t, InBounds(0, 3))
	assert.False(t, InBounds(3, 1))
}

func TestNoWinnerWithFewerThanFiveMarksProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBoard()
		marks := rapid.IntRange(0, 4).Draw(t, "marks")
		cells := rapid.SliceOfNDistinct(rapid.IntRange(0, 8), marks, marks, rapid.ID[int]).Draw(t, "cells")
		for i, cell := range cells {
			mark := MarkA
			if i%2 == 1 {
				mark = MarkB
			}
			b.set(cell/Size, cell%Size, mark)
		}

		// With fewer than five marks neither side has three on the board.
		if _, won := b.Winner(); won {
			t.Fatalf("board %q reported a winner with %d marks", b.String(), marks)
		}
	})
}
