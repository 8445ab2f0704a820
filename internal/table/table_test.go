package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/types"
)

// stubEngine is a deterministic two-seat game for exercising the table
// without real rules: "end" finishes the game, "bad" is illegal,
// "boom" panics, anything else advances the turn.
type stubEngine struct {
	seats int
	turn  int
	moves int
	done  bool
}

func (e *stubEngine) Eligible() []int {
	if e.done {
		return nil
	}
	return []int{e.turn}
}

func (e *stubEngine) LegalMoves(seat int) []string { return nil }

func (e *stubEngine) Apply(seat int, move string) ([]game.Event, error) {
	switch move {
	case "boom":
		panic("stub engine exploded")
	case "bad":
		return nil, game.ErrIllegalMove
	case "end":
		e.done = true
		return []game.Event{{Seat: seat, Text: "the game ends"}}, nil
	}
	e.moves++
	e.turn = (e.turn + 1) % e.seats
	return []game.Event{{Seat: seat, Text: fmt.Sprintf("move %d: %s", e.moves, move)}}, nil
}

func (e *stubEngine) Terminal() bool { return e.done }

func (e *stubEngine) Resign(seat int) { e.done = true }

func (e *stubEngine) View(v game.Viewer) string {
	return fmt.Sprintf("stub view for seat %d after %d moves", v.Seat, e.moves)
}

func stubType(v game.Vacancy) game.Type {
	return game.Type{
		Name:        "stub",
		DisplayName: "Stub",
		MinSeats:    2,
		MaxSeats:    2,
		Vacancy:     v,
		New: func(seats int, cfg map[string]string) (game.Engine, error) {
			return &stubEngine{seats: seats}, nil
		},
	}
}

func newTestTable(t *testing.T, v game.Vacancy) *Table {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "test", stubType(v), 2, nil, zap.NewNop(), nil)
}

func occupant(id string) (Occupant, chan types.Event) {
	out := make(chan types.Event, 64)
	return Occupant{ID: id, Handle: id, Outbox: out}, out
}

// recvEvent receives one event with a timeout so tests never hang.
func recvEvent(t *testing.T, ch <-chan types.Event, within time.Duration) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return types.Event{} // unreachable
	}
}

// recvKind receives events until one of the wanted kind arrives.
func recvKind(t *testing.T, ch <-chan types.Event, kind types.EventKind) types.Event {
	t.Helper()
	for i := 0; i < 32; i++ {
		ev := recvEvent(t, ch, time.Second)
		if ev.Kind == kind {
			return ev
		}
	}
	t.Fatalf("no %s event in the first 32 events", kind)
	return types.Event{}
}

func drain(ch <-chan types.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func seatTwo(t *testing.T, tbl *Table) (Occupant, chan types.Event, Occupant, chan types.Event) {
	t.Helper()
	a, aOut := occupant("a")
	b, bOut := occupant("b")
	if _, err := tbl.Sit(a, AnySeat); err != nil {
		t.Fatalf("seat a: %v", err)
	}
	if _, err := tbl.Sit(b, AnySeat); err != nil {
		t.Fatalf("seat b: %v", err)
	}
	return a, aOut, b, bOut
}

func TestAutostartWhenFull(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)

	a, aOut := occupant("a")
	if seat, err := tbl.Sit(a, AnySeat); err != nil || seat != 0 {
		t.Fatalf("seat a: seat=%d err=%v", seat, err)
	}
	info, err := tbl.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.State != StateForming {
		t.Fatalf("state = %s, want forming before the table fills", info.State)
	}

	b, bOut := occupant("b")
	if seat, err := tbl.Sit(b, AnySeat); err != nil || seat != 1 {
		t.Fatalf("seat b: seat=%d err=%v", seat, err)
	}

	info, err = tbl.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.State != StateActive {
		t.Fatalf("state = %s, want active once both seats fill", info.State)
	}

	// Both players were sent the start announcement and a view.
	for _, out := range []chan types.Event{aOut, bOut} {
		ev := recvKind(t, out, types.EvtView)
		if !strings.Contains(ev.Text, "stub view") {
			t.Fatalf("view = %q", ev.Text)
		}
	}
}

func TestSameSessionCannotTakeTwoSeats(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _ := occupant("a")
	if _, err := tbl.Sit(a, AnySeat); err != nil {
		t.Fatalf("first sit: %v", err)
	}
	if _, err := tbl.Sit(a, 1); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("second sit: got %v", err)
	}
	if err := tbl.Watch(a); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("player kibitzing own table: got %v", err)
	}
}

func TestLastSeatRace(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _ := occupant("a")
	if _, err := tbl.Sit(a, AnySeat); err != nil {
		t.Fatalf("seat a: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		occ, _ := occupant(fmt.Sprintf("racer-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tbl.Sit(occ, AnySeat)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, fulls := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTableFull):
			fulls++
		default:
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if wins != 1 || fulls != racers-1 {
		t.Fatalf("race: %d wins, %d full, want 1 and %d", wins, fulls, racers-1)
	}
}

func TestOutOfTurnAndIllegalMoves(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	_, aOut, b, bOut := seatTwo(t, tbl)
	drain(aOut)
	drain(bOut)

	// Seat 0 moves first; b holds seat 1.
	if err := tbl.Move(b.ID, "x"); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("out-of-turn: got %v", err)
	}
	if err := tbl.Move("a", "bad"); !errors.Is(err, game.ErrIllegalMove) {
		t.Fatalf("illegal: got %v", err)
	}
	// Neither rejection was broadcast.
	select {
	case ev := <-bOut:
		t.Fatalf("rejected moves must not broadcast, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if err := tbl.Move("a", "x"); err != nil {
		t.Fatalf("legal move: %v", err)
	}
	if ev := recvKind(t, bOut, types.EvtInfo); !strings.Contains(ev.Text, "move 1: x") {
		t.Fatalf("move announcement = %q", ev.Text)
	}
}

func TestBroadcastOrderIsIdenticalForAllOccupants(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	_, aOut, _, bOut := seatTwo(t, tbl)

	k, kOut := occupant("kib")
	if err := tbl.Watch(k); err != nil {
		t.Fatalf("watch: %v", err)
	}
	drain(aOut)
	drain(bOut)
	drain(kOut)

	moves := []struct{ id, mv string }{
		{"a", "m1"}, {"b", "m2"}, {"a", "m3"}, {"b", "m4"},
	}
	for _, m := range moves {
		if err := tbl.Move(m.id, m.mv); err != nil {
			t.Fatalf("move %q: %v", m.mv, err)
		}
		tbl.Chat(m.id, "after "+m.mv)
	}

	// Every occupant must observe the same sequence of state-changing
	// events. Collect each occupant's stream and compare.
	collect := func(out chan types.Event) []string {
		var seq []string
		for len(seq) < 2*len(moves) {
			ev := recvEvent(t, out, time.Second)
			if ev.Kind == types.EvtInfo || ev.Kind == types.EvtChat {
				seq = append(seq, string(ev.Kind)+":"+ev.Text)
			}
		}
		return seq
	}
	aSeq := collect(aOut)
	bSeq := collect(bOut)
	kSeq := collect(kOut)
	for i := range aSeq {
		if aSeq[i] != bSeq[i] || aSeq[i] != kSeq[i] {
			t.Fatalf("event order diverges at %d:\n a=%q\n b=%q\n k=%q", i, aSeq, bSeq, kSeq)
		}
	}
}

func TestVacancyResign(t *testing.T) {
	tbl := newTestTable(t, game.VacancyResign)
	a, _, _, bOut := seatTwo(t, tbl)
	drain(bOut)

	tbl.Leave(a.ID)

	if ev := recvKind(t, bOut, types.EvtInfo); !strings.Contains(ev.Text, "leaves seat 1") {
		t.Fatalf("departure notice = %q", ev.Text)
	}
	if ev := recvKind(t, bOut, types.EvtInfo); !strings.Contains(ev.Text, "forfeits") {
		t.Fatalf("forfeit notice = %q", ev.Text)
	}

	info, err := tbl.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.State != StateFinished {
		t.Fatalf("state = %s, want finished after forfeit", info.State)
	}
}

func TestVacancyPauseAndResume(t *testing.T) {
	tbl := newTestTable(t, game.VacancyPause)
	a, _, b, bOut := seatTwo(t, tbl)
	drain(bOut)

	tbl.Leave(a.ID)
	if err := tbl.Move(b.ID, "x"); !errors.Is(err, ErrPaused) {
		t.Fatalf("move while paused: got %v", err)
	}
	info, _ := tbl.Info()
	if !info.Paused || !info.Seats[0].Vacant {
		t.Fatalf("info = %+v, want paused with seat 1 vacant", info)
	}

	// A new player takes the vacant seat; play resumes.
	c, _ := occupant("c")
	seat, err := tbl.Sit(c, AnySeat)
	if err != nil || seat != 0 {
		t.Fatalf("re-seat: seat=%d err=%v", seat, err)
	}
	if err := tbl.Move(c.ID, "x"); err != nil {
		t.Fatalf("move after resume: %v", err)
	}
}

func TestVacancyContinue(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _, b, bOut := seatTwo(t, tbl)
	if err := tbl.Move(a.ID, "x"); err != nil {
		t.Fatalf("move: %v", err)
	}
	drain(bOut)

	tbl.Leave(a.ID)
	info, _ := tbl.Info()
	if info.State != StateActive || info.Paused {
		t.Fatalf("info = %+v, want still active and unpaused", info)
	}
	// Turn already passed to b before a left.
	if err := tbl.Move(b.ID, "y"); err != nil {
		t.Fatalf("move after vacancy: %v", err)
	}
}

func TestKibitzerLifecycle(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _, b, bOut := seatTwo(t, tbl)
	drain(bOut)

	// Finish the game, then kibitz the finished table: allowed.
	if err := tbl.Move(a.ID, "end"); err != nil {
		t.Fatalf("ending move: %v", err)
	}
	info, _ := tbl.Info()
	if info.State != StateFinished {
		t.Fatalf("state = %s, want finished", info.State)
	}

	k, kOut := occupant("kib")
	if err := tbl.Watch(k); err != nil {
		t.Fatalf("kibitz finished table: %v", err)
	}
	if ev := recvKind(t, kOut, types.EvtView); !strings.Contains(ev.Text, "stub view") {
		t.Fatalf("kibitzer view = %q", ev.Text)
	}

	// Chat still works on a finished table.
	tbl.Chat(b.ID, "good game")
	if ev := recvKind(t, kOut, types.EvtChat); ev.Text != "good game" || ev.From != "b" {
		t.Fatalf("chat = %+v", ev)
	}

	// Sitting down at a finished table is not allowed.
	c, _ := occupant("c")
	if _, err := tbl.Sit(c, AnySeat); !errors.Is(err, ErrTableFull) {
		t.Fatalf("sit at finished table: got %v", err)
	}
}

func TestExplicitCloseAndClosedTable(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, aOut, b, _ := seatTwo(t, tbl)

	if err := tbl.Close(a.ID); !errors.Is(err, ErrNotFinished) {
		t.Fatalf("closing an active table: got %v", err)
	}
	if err := tbl.Move(a.ID, "end"); err != nil {
		t.Fatalf("ending move: %v", err)
	}
	if err := tbl.Close(b.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	if ev := recvKind(t, aOut, types.EvtClosed); ev.Table != "test" {
		t.Fatalf("closed event = %+v", ev)
	}

	select {
	case <-tbl.Done():
	case <-time.After(time.Second):
		t.Fatal("table loop did not exit after close")
	}

	// Everything on a closed table reads as not found.
	k, _ := occupant("late")
	if err := tbl.Watch(k); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("watch closed table: got %v", err)
	}
	if _, err := tbl.Sit(k, AnySeat); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("sit at closed table: got %v", err)
	}
}

func TestClosesWhenLastOccupantLeaves(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _, b, _ := seatTwo(t, tbl)

	tbl.Leave(a.ID)
	tbl.Leave(b.ID)

	select {
	case <-tbl.Done():
	case <-time.After(time.Second):
		t.Fatal("deserted table did not close")
	}
}

func TestEngineFaultFinishesOnlyThisTable(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	other := newTestTable(t, game.VacancyContinue)
	a, _, _, bOut := seatTwo(t, tbl)
	c, _, _, _ := seatTwo(t, other)
	drain(bOut)

	err := tbl.Move(a.ID, "boom")
	if err == nil {
		t.Fatal("move into a panicking engine must fail")
	}
	if ev := recvKind(t, bOut, types.EvtInfo); !strings.Contains(ev.Text, "abnormally") {
		t.Fatalf("abnormal termination notice = %q", ev.Text)
	}
	info, _ := tbl.Info()
	if info.State != StateFinished {
		t.Fatalf("state = %s, want finished after engine fault", info.State)
	}

	// The other table keeps playing.
	if err := other.Move(c.ID, "x"); err != nil {
		t.Fatalf("unrelated table affected by fault: %v", err)
	}
}

func TestMidGameReseatGetsView(t *testing.T) {
	tbl := newTestTable(t, game.VacancyContinue)
	a, _, _, bOut := seatTwo(t, tbl)
	drain(bOut)
	tbl.Leave(a.ID)

	c, cOut := occupant("c")
	if _, err := tbl.Sit(c, 0); err != nil {
		t.Fatalf("re-seat: %v", err)
	}
	if ev := recvKind(t, cOut, types.EvtView); !strings.Contains(ev.Text, "seat 0") {
		t.Fatalf("re-seated player view = %q", ev.Text)
	}
}
