// Package set implements the pattern-matching card game Set. All
// occupied seats race in real time: any seat may claim three tableau
// cards at any moment, so every seat is always eligible to move.
package set

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gilesd/giles/internal/game"
)

const deckSize = 81 // 3^4 attribute combinations
const tableauTarget = 12

// Type is the registry descriptor for Set.
var Type = game.Type{
	Name:         "set",
	DisplayName:  "Set",
	MinSeats:     1,
	MaxSeats:     8,
	DefaultSeats: 4,
	Vacancy:      game.VacancyContinue,
	New:          New,
}

type Set struct {
	seats   int
	deck    []int
	tableau []int
	scores  []int
	done    bool
}

func New(seats int, cfg map[string]string) (game.Engine, error) {
	if seats < 1 {
		return nil, fmt.Errorf("%w: set needs at least one seat", game.ErrBadConfig)
	}
	seed := time.Now().UnixNano()
	if s, ok := cfg["seed"]; ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad seed %q", game.ErrBadConfig, s)
		}
		seed = n
	}
	g := &Set{
		seats:  seats,
		deck:   make([]int, deckSize),
		scores: make([]int, seats),
	}
	for i := range g.deck {
		g.deck[i] = i
	}
	rand.New(rand.NewSource(seed)).Shuffle(deckSize, func(i, j int) {
		g.deck[i], g.deck[j] = g.deck[j], g.deck[i]
	})
	g.dealTo(tableauTarget)
	g.ensureSetPresent()
	return g, nil
}

func (g *Set) dealTo(n int) {
	for len(g.tableau) < n && len(g.deck) > 0 {
		g.tableau = append(g.tableau, g.deck[0])
		g.deck = g.deck[1:]
	}
}

// ensureSetPresent deals three extra cards while the tableau holds no
// set; when the deck runs dry with no set on the table the game ends.
func (g *Set) ensureSetPresent() {
	for findSet(g.tableau) == nil && len(g.deck) > 0 {
		g.dealTo(len(g.tableau) + 3)
	}
	if findSet(g.tableau) == nil {
		g.done = true
	}
}

// isSet reports whether each of the four base-3 attributes is all-same
// or all-different across the three cards, which both reduce to the
// digit sums being divisible by three.
func isSet(a, b, c int) bool {
	for i := 0; i < 4; i++ {
		if (a%3+b%3+c%3)%3 != 0 {
			return false
		}
		a, b, c = a/3, b/3, c/3
	}
	return true
}

func findSet(cards []int) []int {
	for i := 0; i < len(cards); i++ {
		for j := i + 1; j < len(cards); j++ {
			for k := j + 1; k < len(cards); k++ {
				if isSet(cards[i], cards[j], cards[k]) {
					return []int{i, j, k}
				}
			}
		}
	}
	return nil
}

var colorLetters = [3]byte{'R', 'G', 'P'}   // red green purple
var shapeLetters = [3]byte{'D', 'O', 'S'}   // diamond oval squiggle
var shadingLetters = [3]byte{'s', 't', 'o'} // solid striped open

func cardString(card int) string {
	return fmt.Sprintf("%d%c%c%c",
		card%3+1,
		colorLetters[card/3%3],
		shapeLetters[card/9%3],
		shadingLetters[card/27%3])
}

func (g *Set) Eligible() []int {
	if g.done {
		return nil
	}
	seats := make([]int, g.seats)
	for i := range seats {
		seats[i] = i
	}
	return seats
}

func (g *Set) LegalMoves(seat int) []string {
	if g.done {
		return nil
	}
	var moves []string
	for i := 0; i < len(g.tableau); i++ {
		for j := i + 1; j < len(g.tableau); j++ {
			for k := j + 1; k < len(g.tableau); k++ {
				if isSet(g.tableau[i], g.tableau[j], g.tableau[k]) {
					moves = append(moves, fmt.Sprintf("%d %d %d", i+1, j+1, k+1))
				}
			}
		}
	}
	return moves
}

// Apply handles a claim of three tableau positions, 1-based, with an
// optional leading "set" verb. A well-formed claim that is not a set
// is still a valid play: it costs the claimant a point.
func (g *Set) Apply(seat int, move string) ([]game.Event, error) {
	if g.done {
		return nil, fmt.Errorf("%w: the game is over", game.ErrIllegalMove)
	}
	if seat < 0 || seat >= g.seats {
		return nil, game.ErrNotYourTurn
	}
	fields := strings.Fields(strings.ToLower(move))
	if len(fields) > 0 && fields[0] == "set" {
		fields = fields[1:]
	}
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: claim three card positions, e.g. \"1 5 9\"", game.ErrIllegalMove)
	}
	idx := make([]int, 3)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(g.tableau) {
			return nil, fmt.Errorf("%w: %q is not a card position", game.ErrIllegalMove, f)
		}
		idx[i] = n - 1
	}
	if idx[0] == idx[1] || idx[0] == idx[2] || idx[1] == idx[2] {
		return nil, fmt.Errorf("%w: positions must be distinct", game.ErrIllegalMove)
	}

	a, b, c := g.tableau[idx[0]], g.tableau[idx[1]], g.tableau[idx[2]]
	claim := fmt.Sprintf("%s %s %s", cardString(a), cardString(b), cardString(c))
	if !isSet(a, b, c) {
		g.scores[seat]--
		return []game.Event{
			{Seat: seat, Text: fmt.Sprintf("seat %d claims %s: not a set, one point lost", seat+1, claim)},
		}, nil
	}

	g.scores[seat]++
	// Remove highest index first so the lower indices stay valid.
	if idx[0] < idx[1] {
		idx[0], idx[1] = idx[1], idx[0]
	}
	if idx[0] < idx[2] {
		idx[0], idx[2] = idx[2], idx[0]
	}
	if idx[1] < idx[2] {
		idx[1], idx[2] = idx[2], idx[1]
	}
	for _, i := range idx {
		g.tableau = append(g.tableau[:i], g.tableau[i+1:]...)
	}
	g.dealTo(tableauTarget)
	g.ensureSetPresent()

	events := []game.Event{
		{Seat: seat, Text: fmt.Sprintf("seat %d takes the set %s", seat+1, claim)},
	}
	if g.done {
		events = append(events, game.Event{Seat: -1, Text: "the deck is exhausted and no sets remain; " + g.standings()})
	}
	return events, nil
}

func (g *Set) standings() string {
	best := g.scores[0]
	for _, s := range g.scores[1:] {
		if s > best {
			best = s
		}
	}
	var winners []string
	for i, s := range g.scores {
		if s == best {
			winners = append(winners, fmt.Sprintf("seat %d", i+1))
		}
	}
	return fmt.Sprintf("%s wins with %d", strings.Join(winners, " and "), best)
}

func (g *Set) Terminal() bool { return g.done }

func (g *Set) View(v game.Viewer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tableau (%d cards left in the deck):\n", len(g.deck))
	for i, card := range g.tableau {
		fmt.Fprintf(&b, "  %2d: %s", i+1, cardString(card))
		if (i+1)%4 == 0 || i == len(g.tableau)-1 {
			b.WriteByte('\n')
		}
	}
	b.WriteString("Scores:")
	for i, s := range g.scores {
		if i == v.Seat {
			fmt.Fprintf(&b, "  seat %d (you): %d", i+1, s)
		} else {
			fmt.Fprintf(&b, "  seat %d: %d", i+1, s)
		}
	}
	b.WriteByte('\n')
	if g.done {
		b.WriteString("The game is over; " + g.standings() + ".\n")
	}
	return b.String()
}
