// Package ygame implements the game of Y: two players alternate
// placing stones on a triangular board, and the first to connect all
// three edges with a single group wins.
package ygame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gilesd/giles/internal/game"
)

const (
	minSize     = 3
	maxSize     = 26
	defaultSize = 13
)

const (
	empty = iota
	black // seat 0
	white // seat 1
)

const (
	edgeLeft   = 1 << 0
	edgeRight  = 1 << 1
	edgeBottom = 1 << 2
	allEdges   = edgeLeft | edgeRight | edgeBottom
)

// Type is the registry descriptor for Y.
var Type = game.Type{
	Name:         "y",
	DisplayName:  "Y",
	MinSeats:     2,
	MaxSeats:     2,
	DefaultSeats: 2,
	Vacancy:      game.VacancyResign,
	New:          New,
}

type Y struct {
	size    int
	board   [][]int // board[r] has r+1 cells
	turn    int     // seat to move
	winner  int     // -1 until decided
	moves   int
	lastRow int
	lastCol int

	// union-find over cells, with per-root edge contact masks
	parent []int
	edges  []uint8
}

func New(seats int, cfg map[string]string) (game.Engine, error) {
	if seats != 2 {
		return nil, fmt.Errorf("%w: y needs exactly 2 seats", game.ErrBadConfig)
	}
	size := defaultSize
	if s, ok := cfg["size"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < minSize || n > maxSize {
			return nil, fmt.Errorf("%w: size must be %d..%d", game.ErrBadConfig, minSize, maxSize)
		}
		size = n
	}
	y := &Y{
		size:    size,
		turn:    0,
		winner:  -1,
		lastRow: -1,
		lastCol: -1,
	}
	y.board = make([][]int, size)
	cells := 0
	for r := range y.board {
		y.board[r] = make([]int, r+1)
		cells += r + 1
	}
	y.parent = make([]int, cells)
	y.edges = make([]uint8, cells)
	for i := range y.parent {
		y.parent[i] = i
	}
	return y, nil
}

func (y *Y) cellIndex(r, c int) int { return r*(r+1)/2 + c }

func (y *Y) find(i int) int {
	for y.parent[i] != i {
		y.parent[i] = y.parent[y.parent[i]]
		i = y.parent[i]
	}
	return i
}

func (y *Y) union(a, b int) {
	ra, rb := y.find(a), y.find(b)
	if ra == rb {
		return
	}
	y.parent[rb] = ra
	y.edges[ra] |= y.edges[rb]
}

func (y *Y) edgeMask(r, c int) uint8 {
	var m uint8
	if c == 0 {
		m |= edgeLeft
	}
	if c == r {
		m |= edgeRight
	}
	if r == y.size-1 {
		m |= edgeBottom
	}
	return m
}

var neighborDeltas = [6][2]int{{0, -1}, {0, 1}, {-1, -1}, {-1, 0}, {1, 0}, {1, 1}}

func (y *Y) valid(r, c int) bool {
	return r >= 0 && r < y.size && c >= 0 && c <= r
}

func colorName(color int) string {
	if color == black {
		return "black"
	}
	return "white"
}

func seatColor(seat int) int {
	if seat == 0 {
		return black
	}
	return white
}

// parseCoord turns "c3" into 0-based (row, col). The column letter may
// trail the row number too ("3c"), matching the forgiving parsing of
// classic board servers.
func parseCoord(s string) (int, int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, 0, false
	}
	var colCh byte
	var rowStr string
	if s[0] >= 'a' && s[0] <= 'z' {
		colCh, rowStr = s[0], s[1:]
	} else if last := s[len(s)-1]; last >= 'a' && last <= 'z' {
		colCh, rowStr = last, s[:len(s)-1]
	} else {
		return 0, 0, false
	}
	row, err := strconv.Atoi(rowStr)
	if err != nil || row < 1 {
		return 0, 0, false
	}
	return row - 1, int(colCh - 'a'), true
}

func (y *Y) Eligible() []int {
	if y.Terminal() {
		return nil
	}
	return []int{y.turn}
}

func (y *Y) LegalMoves(seat int) []string {
	if y.Terminal() || seat != y.turn {
		return nil
	}
	var moves []string
	for r := range y.board {
		for c, cell := range y.board[r] {
			if cell == empty {
				moves = append(moves, fmt.Sprintf("%c%d", 'a'+c, r+1))
			}
		}
	}
	return moves
}

func (y *Y) Apply(seat int, move string) ([]game.Event, error) {
	if y.Terminal() {
		return nil, fmt.Errorf("%w: the game is over", game.ErrIllegalMove)
	}
	if seat != y.turn {
		return nil, game.ErrNotYourTurn
	}
	move = strings.TrimSpace(move)
	if strings.EqualFold(move, "resign") {
		y.Resign(seat)
		return []game.Event{
			{Seat: seat, Text: fmt.Sprintf("%s resigns; %s wins", colorName(seatColor(seat)), colorName(seatColor(y.winner)))},
		}, nil
	}
	r, c, ok := parseCoord(move)
	if !ok || !y.valid(r, c) {
		return nil, fmt.Errorf("%w: %q is not a cell on this board", game.ErrIllegalMove, move)
	}
	if y.board[r][c] != empty {
		return nil, fmt.Errorf("%w: %q is already occupied", game.ErrIllegalMove, move)
	}

	color := seatColor(seat)
	y.board[r][c] = color
	y.lastRow, y.lastCol = r, c
	y.moves++

	idx := y.cellIndex(r, c)
	y.edges[idx] |= y.edgeMask(r, c)
	for _, d := range neighborDeltas {
		nr, nc := r+d[0], c+d[1]
		if y.valid(nr, nc) && y.board[nr][nc] == color {
			y.union(idx, y.cellIndex(nr, nc))
		}
	}

	events := []game.Event{
		{Seat: seat, Text: fmt.Sprintf("%s plays %c%d", colorName(color), 'a'+c, r+1)},
	}
	if y.edges[y.find(idx)] == allEdges {
		y.winner = seat
		events = append(events, game.Event{Seat: seat, Text: fmt.Sprintf("%s wins, connecting all three sides", colorName(color))})
	} else {
		y.turn = 1 - y.turn
	}
	return events, nil
}

func (y *Y) Resign(seat int) {
	if y.winner == -1 {
		y.winner = 1 - seat
	}
}

func (y *Y) Terminal() bool { return y.winner != -1 }

func (y *Y) View(v game.Viewer) string {
	var b strings.Builder
	b.WriteString("    ")
	for c := 0; c < y.size; c++ {
		fmt.Fprintf(&b, "%c ", 'a'+c)
	}
	b.WriteByte('\n')
	for r := range y.board {
		fmt.Fprintf(&b, "%2d  ", r+1)
		for c, cell := range y.board[r] {
			mark := byte('.')
			switch cell {
			case black:
				mark = 'x'
			case white:
				mark = 'o'
			}
			b.WriteByte(mark)
			if r == y.lastRow && c == y.lastCol {
				b.WriteByte('<')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	switch {
	case y.winner != -1:
		fmt.Fprintf(&b, "%s has won the game.\n", colorName(seatColor(y.winner)))
	case v.Seat == y.turn:
		fmt.Fprintf(&b, "It is your move (%s).\n", colorName(seatColor(y.turn)))
	default:
		fmt.Fprintf(&b, "It is %s's move.\n", colorName(seatColor(y.turn)))
	}
	return b.String()
}
