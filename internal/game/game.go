package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownGameType = errors.New("unknown game type")
var ErrIllegalMove = errors.New("illegal move")
var ErrNotYourTurn = errors.New("not your turn")
var ErrBadConfig = errors.New("bad game config")

// Viewer identifies who a rendered view is for. Kibitzers get Seat -1
// and see only public state; games with hidden information project
// accordingly.
type Viewer struct {
	Seat   int
	Handle string
}

// Kibitzer is the viewer for someone watching without a seat.
func Kibitzer(handle string) Viewer { return Viewer{Seat: -1, Handle: handle} }

// Event is a table-wide announcement produced by applying a move
// ("North leads with the ace of spades"). Seat is the acting seat, or
// -1 when no single seat is responsible.
type Event struct {
	Seat int
	Text string
}

// Engine is the contract every game type implements. The table owns
// turn order except where the game itself restricts who may move:
// Eligible reports the seats currently allowed to act, which for
// simultaneous-move games is every seat.
//
// Apply is all-or-nothing: on error the observable state is unchanged.
// Terminal is monotonic; once it reports true it stays true.
type Engine interface {
	Eligible() []int
	LegalMoves(seat int) []string
	Apply(seat int, move string) ([]Event, error)
	Terminal() bool
	View(v Viewer) string
}

// Resigner is an optional engine capability: games that can forfeit a
// seat implement it, and the table invokes it when a vacancy policy of
// VacancyResign fires.
type Resigner interface {
	Resign(seat int)
}

// Vacancy selects what a table does when a player leaves a seat
// mid-game.
type Vacancy int

const (
	// VacancyContinue keeps the game running; the seat just sits empty.
	VacancyContinue Vacancy = iota
	// VacancyResign forfeits the vacated seat via the Resigner
	// capability.
	VacancyResign
	// VacancyPause rejects moves until the seat is re-occupied.
	VacancyPause
)

// Type describes a registered game type.
type Type struct {
	Name         string
	DisplayName  string
	MinSeats     int
	MaxSeats     int
	DefaultSeats int
	Vacancy      Vacancy
	New          func(seats int, cfg map[string]string) (Engine, error)
}

// Registry maps game-type names to their descriptors. Registration
// happens at server start; lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

func (r *Registry) Register(t Type) error {
	if t.Name == "" || t.New == nil {
		return fmt.Errorf("%w: incomplete type descriptor", ErrBadConfig)
	}
	if t.MinSeats < 1 || t.MaxSeats < t.MinSeats {
		return fmt.Errorf("%w: bad seat arity for %q", ErrBadConfig, t.Name)
	}
	if t.DefaultSeats == 0 {
		t.DefaultSeats = t.MinSeats
	}
	name := strings.ToLower(t.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[name]; dup {
		return fmt.Errorf("game type %q already registered", name)
	}
	r.types[name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[strings.ToLower(name)]
	if !ok {
		return Type{}, fmt.Errorf("%w: %q", ErrUnknownGameType, name)
	}
	return t, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
