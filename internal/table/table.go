// Package table implements the table actor: a goroutine owning one
// game's seats, kibitzers, engine, and lifecycle, driven by a typed
// message inbox. Everything that touches a table's state goes through
// that inbox, so moves, joins, leaves, and broadcasts for one table are
// serialized while independent tables run concurrently.
package table

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/types"
)

var ErrTableNotFound = errors.New("table not found")
var ErrTableFull = errors.New("table is full")
var ErrSeatTaken = errors.New("seat is taken")
var ErrNotSeated = errors.New("you are not seated at this table")
var ErrAlreadyJoined = errors.New("already at this table")
var ErrNoGame = errors.New("no game in progress")
var ErrPaused = errors.New("the game is paused")
var ErrAlreadyStarted = errors.New("the game has already started")
var ErrNeedPlayers = errors.New("not enough players to start")
var ErrNotFinished = errors.New("the game is not finished")

var errEngineFault = errors.New("game engine fault")

// State is a table's lifecycle state.
type State string

const (
	StateForming  State = "forming"
	StateActive   State = "active"
	StateFinished State = "finished"
	StateClosed   State = "closed"
)

type seat struct {
	occ    *Occupant
	vacant bool // was occupied mid-game, now open
}

type Table struct {
	code string
	gt   game.Type
	cfg  map[string]string

	inbox chan Msg
	done  chan struct{}

	state        State
	paused       bool
	seats        []seat
	kibitzers    map[string]*Occupant
	engine       game.Engine
	everOccupied bool

	// occupants whose outboxes were full during a broadcast pass; they
	// are removed after the current message finishes.
	drops []string

	log     *zap.Logger
	onClose func()
}

// New creates a table in Forming state and starts its loop. onClose
// runs (on the table goroutine) once the table reaches Closed, so the
// registry can deregister it.
func New(ctx context.Context, code string, gt game.Type, seatCount int, cfg map[string]string, log *zap.Logger, onClose func()) *Table {
	t := &Table{
		code:      code,
		gt:        gt,
		cfg:       cfg,
		inbox:     make(chan Msg, 64),
		done:      make(chan struct{}),
		state:     StateForming,
		seats:     make([]seat, seatCount),
		kibitzers: make(map[string]*Occupant),
		log:       log.With(zap.String("table", code), zap.String("game", gt.Name)),
		onClose:   onClose,
	}
	go t.loop(ctx)
	return t
}

func (t *Table) Code() string { return t.code }

// Done is closed once the table has shut down; senders select on it so
// a message to a dead table degrades to ErrTableNotFound instead of
// blocking forever.
func (t *Table) Done() <-chan struct{} { return t.done }

func (t *Table) send(m Msg) error {
	select {
	case t.inbox <- m:
		return nil
	case <-t.done:
		return ErrTableNotFound
	}
}

// Sit seats the occupant, returning the seat index taken.
func (t *Table) Sit(occ Occupant, seatIdx int) (int, error) {
	reply := make(chan SitReply, 1)
	if err := t.send(Sit{Occ: occ, Seat: seatIdx, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.Seat, r.Err
	case <-t.done:
		return 0, ErrTableNotFound
	}
}

// Watch adds the occupant as a kibitzer.
func (t *Table) Watch(occ Occupant) error {
	reply := make(chan error, 1)
	if err := t.send(Watch{Occ: occ, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return ErrTableNotFound
	}
}

// Leave removes the occupant; it is a no-op on a dead table.
func (t *Table) Leave(id string) { _ = t.send(Leave{ID: id}) }

// Move submits a move payload for the occupant's seat.
func (t *Table) Move(id, payload string) error {
	reply := make(chan error, 1)
	if err := t.send(Move{ID: id, Payload: payload, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return ErrTableNotFound
	}
}

// Chat broadcasts a chat line from the occupant.
func (t *Table) Chat(id, text string) { _ = t.send(Chat{ID: id, Text: text}) }

// Show re-sends the occupant their current view.
func (t *Table) Show(id string) { _ = t.send(Show{ID: id}) }

// Start begins the game early, with at least MinSeats players seated.
func (t *Table) Start(id string) error {
	reply := make(chan error, 1)
	if err := t.send(Start{ID: id, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return ErrTableNotFound
	}
}

// Close tears down a finished table.
func (t *Table) Close(id string) error {
	reply := make(chan error, 1)
	if err := t.send(Close{ID: id, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return nil // already gone
	}
}

// Info returns a snapshot of the table, or ErrTableNotFound if it has
// closed.
func (t *Table) Info() (Info, error) {
	reply := make(chan Info, 1)
	if err := t.send(Snapshot{Reply: reply}); err != nil {
		return Info{}, err
	}
	select {
	case info := <-reply:
		return info, nil
	case <-t.done:
		return Info{}, ErrTableNotFound
	}
}

func (t *Table) loop(ctx context.Context) {
	defer close(t.done)
	defer func() {
		if t.onClose != nil {
			t.onClose()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			t.teardown("server shutting down")
			return
		case m := <-t.inbox:
			if closed := t.handle(m); closed {
				return
			}
			t.processDrops()
			if t.everOccupied && t.empty() {
				t.log.Info("table empty, closing")
				t.close()
				return
			}
		}
	}
}

// handle processes one message; it returns true once the table is
// Closed and the loop should exit.
func (t *Table) handle(m Msg) bool {
	switch msg := m.(type) {
	case Sit:
		msg.Reply <- t.sit(msg.Occ, msg.Seat)
	case Watch:
		msg.Reply <- t.watch(msg.Occ)
	case Leave:
		t.leave(msg.ID, "leaves")
	case Move:
		msg.Reply <- t.move(msg.ID, msg.Payload)
	case Chat:
		if occ := t.occupant(msg.ID); occ != nil {
			t.broadcast(types.Event{Kind: types.EvtChat, Table: t.code, From: occ.Handle, Text: msg.Text})
		}
	case Start:
		msg.Reply <- t.start(msg.ID)
	case Show:
		if occ := t.occupant(msg.ID); occ != nil {
			if t.engine == nil {
				t.post(occ, types.Event{Kind: types.EvtInfo, Table: t.code, Text: "the game has not started yet"})
				break
			}
			if i := t.seatOf(msg.ID); i >= 0 {
				t.postView(occ, t.seatViewer(i))
			} else {
				t.postView(occ, game.Kibitzer(occ.Handle))
			}
		}
	case Close:
		err := t.explicitClose(msg.ID)
		msg.Reply <- err
		if err == nil {
			return true
		}
	case Snapshot:
		msg.Reply <- t.info()
	case Shutdown:
		t.teardown("table shut down")
		return true
	}
	return false
}

func (t *Table) sit(occ Occupant, want int) SitReply {
	if t.occupant(occ.ID) != nil {
		return SitReply{Err: ErrAlreadyJoined}
	}
	if t.state == StateFinished {
		return SitReply{Err: fmt.Errorf("%w: the game is over", ErrTableFull)}
	}
	idx := -1
	switch {
	case want == AnySeat:
		for i := range t.seats {
			if t.seats[i].occ == nil && (t.state == StateForming || t.seats[i].vacant) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return SitReply{Err: ErrTableFull}
		}
	case want < 0 || want >= len(t.seats):
		return SitReply{Err: fmt.Errorf("%w: no seat %d", ErrSeatTaken, want+1)}
	case t.seats[want].occ != nil:
		return SitReply{Err: ErrSeatTaken}
	case t.state == StateActive && !t.seats[want].vacant:
		return SitReply{Err: ErrSeatTaken}
	default:
		idx = want
	}

	o := occ
	t.seats[idx].occ = &o
	t.seats[idx].vacant = false
	t.everOccupied = true
	t.log.Info("player seated", zap.String("handle", occ.Handle), zap.Int("seat", idx))
	t.announce(fmt.Sprintf("%s sits in seat %d", occ.Handle, idx+1))

	switch t.state {
	case StateForming:
		if t.occupiedSeats() == len(t.seats) {
			t.begin()
		}
	case StateActive:
		if t.paused && !t.anyVacant() {
			t.paused = false
			t.announce("all seats are filled again; the game resumes")
		}
		t.postView(&o, t.seatViewer(idx))
	}
	return SitReply{Seat: idx}
}

func (t *Table) watch(occ Occupant) error {
	if t.occupant(occ.ID) != nil {
		return ErrAlreadyJoined
	}
	o := occ
	t.kibitzers[occ.ID] = &o
	t.everOccupied = true
	t.announce(fmt.Sprintf("%s is now watching", occ.Handle))
	if t.engine != nil {
		t.postView(&o, game.Kibitzer(occ.Handle))
	}
	return nil
}

func (t *Table) leave(id, how string) {
	if occ, ok := t.kibitzers[id]; ok {
		delete(t.kibitzers, id)
		t.announce(fmt.Sprintf("%s stops watching", occ.Handle))
		return
	}
	for i := range t.seats {
		if t.seats[i].occ == nil || t.seats[i].occ.ID != id {
			continue
		}
		handle := t.seats[i].occ.Handle
		t.seats[i].occ = nil
		switch t.state {
		case StateForming, StateFinished:
			t.seats[i].vacant = false
			t.announce(fmt.Sprintf("%s stands up from seat %d", handle, i+1))
		case StateActive:
			t.seats[i].vacant = true
			t.announce(fmt.Sprintf("%s %s seat %d", handle, how, i+1))
			t.vacancy(i)
		}
		return
	}
}

// vacancy applies the game type's mid-game departure policy.
func (t *Table) vacancy(seatIdx int) {
	switch t.gt.Vacancy {
	case game.VacancyContinue:
		// Seat stays open; anyone may claim it.
	case game.VacancyResign:
		r, ok := t.engine.(game.Resigner)
		if !ok {
			return
		}
		if fault := t.guard(func() { r.Resign(seatIdx) }); fault != nil {
			t.fault(fault)
			return
		}
		t.announce(fmt.Sprintf("seat %d forfeits", seatIdx+1))
		t.checkTerminal()
	case game.VacancyPause:
		t.paused = true
		t.announce(fmt.Sprintf("the game is paused until seat %d is filled", seatIdx+1))
	}
}

func (t *Table) move(id, payload string) error {
	if t.state != StateActive {
		return ErrNoGame
	}
	if t.paused {
		return ErrPaused
	}
	seatIdx := t.seatOf(id)
	if seatIdx == -1 {
		return ErrNotSeated
	}

	var eligible []int
	if fault := t.guard(func() { eligible = t.engine.Eligible() }); fault != nil {
		t.fault(fault)
		return errEngineFault
	}
	if !slices.Contains(eligible, seatIdx) {
		return game.ErrNotYourTurn
	}

	var events []game.Event
	var err error
	if fault := t.guard(func() { events, err = t.engine.Apply(seatIdx, payload) }); fault != nil {
		t.fault(fault)
		return errEngineFault
	}
	if err != nil {
		return err
	}

	for _, ev := range events {
		t.announce(ev.Text)
	}
	t.broadcastViews()
	t.checkTerminal()
	return nil
}

func (t *Table) start(id string) error {
	if t.state != StateForming {
		return ErrAlreadyStarted
	}
	if t.seatOf(id) == -1 {
		return ErrNotSeated
	}
	if t.occupiedSeats() < t.gt.MinSeats {
		return fmt.Errorf("%w: %s needs at least %d", ErrNeedPlayers, t.gt.DisplayName, t.gt.MinSeats)
	}
	// Drop the unfilled seats so seat indices are dense for the engine.
	compact := t.seats[:0]
	for _, s := range t.seats {
		if s.occ != nil {
			compact = append(compact, s)
		}
	}
	t.seats = compact
	t.begin()
	return nil
}

// begin moves Forming -> Active, constructing the engine.
func (t *Table) begin() {
	var eng game.Engine
	var err error
	if fault := t.guard(func() { eng, err = t.gt.New(len(t.seats), t.cfg) }); fault != nil {
		t.fault(fault)
		return
	}
	if err != nil {
		t.log.Error("engine construction failed", zap.Error(err))
		t.announce("the game could not be started: " + err.Error())
		return
	}
	t.engine = eng
	t.state = StateActive
	t.log.Info("game started", zap.Int("seats", len(t.seats)))
	t.announce(fmt.Sprintf("the game of %s has begun", t.gt.DisplayName))
	t.broadcastViews()
}

func (t *Table) checkTerminal() {
	if t.state != StateActive {
		return
	}
	var terminal bool
	if fault := t.guard(func() { terminal = t.engine.Terminal() }); fault != nil {
		t.fault(fault)
		return
	}
	if terminal {
		t.state = StateFinished
		t.log.Info("game finished")
		t.announce("the game is over; the table remains open for chat")
	}
}

// fault handles an engine panic: this table dies, the rest of the
// server does not.
func (t *Table) fault(err error) {
	t.log.Error("engine fault", zap.Error(err))
	t.state = StateFinished
	t.announce("the game ended abnormally due to an internal game error")
}

// guard runs an engine call, converting a panic into an error.
func (t *Table) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errEngineFault, r)
		}
	}()
	fn()
	return nil
}

func (t *Table) explicitClose(id string) error {
	if t.state != StateFinished {
		return ErrNotFinished
	}
	if t.occupant(id) == nil {
		return ErrNotSeated
	}
	t.teardown("table closed")
	return nil
}

// teardown notifies everyone and transitions to Closed.
func (t *Table) teardown(reason string) {
	t.broadcast(types.Event{Kind: types.EvtClosed, Table: t.code, Text: reason})
	t.close()
}

func (t *Table) close() {
	t.state = StateClosed
	for i := range t.seats {
		t.seats[i].occ = nil
	}
	clear(t.kibitzers)
}

// broadcast fans one event out to every occupant, seats first, in a
// single pass: every occupant of this table observes the same event
// order. A full outbox never blocks the table; that occupant is
// dropped once the current message is done.
func (t *Table) broadcast(ev types.Event) {
	for _, s := range t.seats {
		if s.occ != nil {
			t.post(s.occ, ev)
		}
	}
	for _, k := range t.sortedKibitzers() {
		t.post(k, ev)
	}
}

func (t *Table) post(o *Occupant, ev types.Event) {
	select {
	case o.Outbox <- ev:
	default:
		t.log.Warn("dropping unreachable occupant", zap.String("handle", o.Handle))
		t.drops = append(t.drops, o.ID)
	}
}

func (t *Table) processDrops() {
	for _, id := range t.drops {
		t.leave(id, "is dropped from")
	}
	t.drops = t.drops[:0]
}

func (t *Table) announce(text string) {
	t.broadcast(types.Event{Kind: types.EvtInfo, Table: t.code, Text: text})
}

// broadcastViews computes and delivers each occupant's projection of
// the game state.
func (t *Table) broadcastViews() {
	for i, s := range t.seats {
		if s.occ != nil {
			t.postView(s.occ, t.seatViewer(i))
		}
	}
	for _, k := range t.sortedKibitzers() {
		t.postView(k, game.Kibitzer(k.Handle))
	}
}

func (t *Table) postView(o *Occupant, v game.Viewer) {
	var view string
	if fault := t.guard(func() { view = t.engine.View(v) }); fault != nil {
		t.fault(fault)
		return
	}
	t.post(o, types.Event{Kind: types.EvtView, Table: t.code, Text: view})
}

func (t *Table) seatViewer(i int) game.Viewer {
	return game.Viewer{Seat: i, Handle: t.seats[i].occ.Handle}
}

func (t *Table) occupant(id string) *Occupant {
	if o, ok := t.kibitzers[id]; ok {
		return o
	}
	for _, s := range t.seats {
		if s.occ != nil && s.occ.ID == id {
			return s.occ
		}
	}
	return nil
}

func (t *Table) seatOf(id string) int {
	for i, s := range t.seats {
		if s.occ != nil && s.occ.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) occupiedSeats() int {
	n := 0
	for _, s := range t.seats {
		if s.occ != nil {
			n++
		}
	}
	return n
}

func (t *Table) anyVacant() bool {
	for _, s := range t.seats {
		if s.vacant && s.occ == nil {
			return true
		}
	}
	return false
}

func (t *Table) empty() bool {
	return t.occupiedSeats() == 0 && len(t.kibitzers) == 0
}

func (t *Table) sortedKibitzers() []*Occupant {
	ks := make([]*Occupant, 0, len(t.kibitzers))
	for _, k := range t.kibitzers {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].Handle < ks[j].Handle })
	return ks
}

func (t *Table) info() Info {
	info := Info{
		Code:   t.code,
		Game:   t.gt.Name,
		State:  t.state,
		Paused: t.paused,
		Seats:  make([]SeatInfo, len(t.seats)),
	}
	for i, s := range t.seats {
		if s.occ != nil {
			info.Seats[i].Handle = s.occ.Handle
		}
		info.Seats[i].Vacant = s.vacant
	}
	for _, k := range t.sortedKibitzers() {
		info.Kibitzers = append(info.Kibitzers, k.Handle)
	}
	return info
}
