// Package session ties one connection to one user: it runs the login
// exchange, pumps the outbox to the transport, and routes command
// lines. A disconnect anywhere is handled as an implicit leave.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/hub"
	"github.com/gilesd/giles/internal/table"
	"github.com/gilesd/giles/internal/transport"
	"github.com/gilesd/giles/internal/types"
)

type role int

const (
	roleNone role = iota
	rolePlayer
	roleKibitzer
)

type Session struct {
	id     string
	handle string
	conn   transport.LineConn
	hub    *hub.Hub
	games  *game.Registry
	log    *zap.Logger
	ctx    context.Context

	// out is the session's single outbox for its whole life: tables
	// post events to it, and the router posts its own replies to it,
	// so everything the user sees flows through one ordered channel.
	out chan types.Event

	tbl  *table.Table
	role role
	seat int
}

// Handler returns a transport.Handler that serves every connection as
// a session against the given hub and game registry.
func Handler(h *hub.Hub, games *game.Registry, motd string, log *zap.Logger) transport.Handler {
	return func(ctx context.Context, conn transport.LineConn) {
		s := &Session{
			id:    uuid.NewString(),
			conn:  conn,
			hub:   h,
			games: games,
			log:   log.Named("session").With(zap.String("addr", conn.RemoteAddr())),
			out:   make(chan types.Event, 64),
		}
		s.run(ctx, motd)
	}
}

func (s *Session) run(ctx context.Context, motd string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	defer s.conn.Close()

	if motd != "" {
		_ = s.conn.WriteLine(motd)
	}
	if !s.login(ctx) {
		return
	}
	s.log = s.log.With(zap.String("handle", s.handle))
	s.log.Info("logged in")

	defer func() {
		if s.tbl != nil {
			s.tbl.Leave(s.id)
		}
		select {
		case s.hub.Inbox() <- hub.Unregister{ID: s.id}:
		case <-s.hub.Done():
		}
		s.log.Info("disconnected")
	}()

	go s.writer(ctx)

	s.printf("Welcome, %s. Type help for commands.", s.handle)
	for {
		line, err := s.conn.ReadLine(ctx)
		if err != nil {
			return
		}
		s.reapTable()
		if quit := s.dispatch(line); quit {
			return
		}
	}
}

// login reads handles until the hub accepts one.
func (s *Session) login(ctx context.Context) bool {
	for {
		_ = s.conn.WriteLine("Choose a handle:")
		line, err := s.conn.ReadLine(ctx)
		if err != nil {
			return false
		}
		handle := strings.TrimSpace(line)
		reply := make(chan error, 1)
		select {
		case s.hub.Inbox() <- hub.Register{ID: s.id, Handle: handle, Reply: reply}:
		case <-s.hub.Done():
			return false
		}
		select {
		case err := <-reply:
			if err != nil {
				_ = s.conn.WriteLine(fmt.Sprintf("error: %v", err))
				continue
			}
			s.handle = handle
			return true
		case <-s.hub.Done():
			return false
		}
	}
}

// writer drains the outbox to the transport. It is the only goroutine
// writing to the connection after login.
func (s *Session) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.out:
			if err := s.conn.WriteLine(render(ev)); err != nil {
				return
			}
		}
	}
}

func render(ev types.Event) string {
	switch ev.Kind {
	case types.EvtChat:
		return fmt.Sprintf("[%s] <%s> %s", ev.Table, ev.From, ev.Text)
	case types.EvtView:
		return ev.Text
	case types.EvtClosed:
		return fmt.Sprintf("[%s] * %s; you are back in the lobby", ev.Table, ev.Text)
	default:
		if ev.Table != "" {
			return fmt.Sprintf("[%s] * %s", ev.Table, ev.Text)
		}
		return ev.Text
	}
}

// reapTable clears a table reference whose table has shut down; the
// eviction notice itself arrives through the outbox.
func (s *Session) reapTable() {
	if s.tbl == nil {
		return
	}
	select {
	case <-s.tbl.Done():
		s.clearTable()
	default:
	}
}

func (s *Session) clearTable() {
	s.tbl = nil
	s.role = roleNone
	s.seat = 0
}

func (s *Session) occupant() table.Occupant {
	return table.Occupant{ID: s.id, Handle: s.handle, Outbox: s.out}
}

// deliver queues an event for the user through the ordinary outbox so
// command replies interleave correctly with table broadcasts.
func (s *Session) deliver(ev types.Event) {
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) printf(format string, args ...any) {
	s.deliver(types.Event{Kind: types.EvtInfo, Text: fmt.Sprintf(format, args...)})
}

func (s *Session) fail(err error) {
	s.printf("error: %v", err)
}
