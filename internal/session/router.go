package session

import (
	"strconv"
	"strings"

	"github.com/gilesd/giles/internal/hub"
	"github.com/gilesd/giles/internal/table"
)

// dispatch routes one input line. It returns true when the session
// should end. Every failure is reported to this session only; a
// command either fully happens or not at all.
func (s *Session) dispatch(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if rest, ok := strings.CutPrefix(line, "'"); ok && s.tbl != nil {
		s.tbl.Chat(s.id, strings.TrimSpace(rest))
		return false
	}

	fields := strings.Fields(line)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "quit", "exit":
		return true
	case "help", "?":
		s.help()
		return false
	}

	if s.tbl != nil {
		s.tableCommand(verb, args)
	} else {
		s.lobbyCommand(verb, args)
	}
	return false
}

func (s *Session) lobbyCommand(verb string, args []string) {
	switch verb {
	case "tables", "list", "ls":
		s.listTables()
	case "new", "create":
		s.createTable(args)
	case "join", "sit":
		s.joinTable(args)
	case "watch", "kibitz":
		s.watchTable(args)
	case "who":
		s.who()
	case "games":
		s.printf("Available games: %s.", strings.Join(s.games.Names(), ", "))
	default:
		s.printf("Unknown command %q. Type help for commands.", verb)
	}
}

func (s *Session) tableCommand(verb string, args []string) {
	switch verb {
	case "move", "play", "mv", "pl":
		if len(args) == 0 {
			s.printf("Usage: move <your move>")
			return
		}
		if err := s.tbl.Move(s.id, strings.Join(args, " ")); err != nil {
			s.fail(err)
		}
	case "chat", "say":
		if len(args) == 0 {
			return
		}
		s.tbl.Chat(s.id, strings.Join(args, " "))
	case "show", "board", "view":
		s.tbl.Show(s.id)
	case "start", "begin":
		if err := s.tbl.Start(s.id); err != nil {
			s.fail(err)
		}
	case "leave", "stand":
		code := s.tbl.Code()
		s.tbl.Leave(s.id)
		s.clearTable()
		s.printf("You leave table %s and return to the lobby.", code)
	case "close":
		if err := s.tbl.Close(s.id); err != nil {
			s.fail(err)
			return
		}
		s.clearTable()
	default:
		s.printf("Unknown table command %q. Type help for commands.", verb)
	}
}

func (s *Session) listTables() {
	reply := make(chan []*table.Table, 1)
	select {
	case s.hub.Inbox() <- hub.ListTables{Reply: reply}:
	case <-s.hub.Done():
		return
	}
	var tables []*table.Table
	select {
	case tables = <-reply:
	case <-s.hub.Done():
		return
	}
	shown := 0
	for _, t := range tables {
		info, err := t.Info()
		if err != nil {
			continue // closed while listing
		}
		seated := 0
		for _, seat := range info.Seats {
			if seat.Handle != "" {
				seated++
			}
		}
		s.printf("%s: %s, %s, %d/%d seats, %d watching",
			info.Code, info.Game, info.State, seated, len(info.Seats), len(info.Kibitzers))
		shown++
	}
	if shown == 0 {
		s.printf("No tables. Start one with: new <game>")
	}
}

// createTable handles: new <game> [seats] [name] [key=value]...
func (s *Session) createTable(args []string) {
	if len(args) == 0 {
		s.printf("Usage: new <game> [seats] [name] [key=value]...")
		return
	}
	msg := hub.CreateTable{
		GameType: args[0],
		Config:   map[string]string{},
		Reply:    make(chan hub.CreateReply, 1),
	}
	for _, arg := range args[1:] {
		if k, v, ok := strings.Cut(arg, "="); ok {
			msg.Config[strings.ToLower(k)] = v
		} else if n, err := strconv.Atoi(arg); err == nil && msg.Seats == 0 {
			msg.Seats = n
		} else if msg.Name == "" {
			msg.Name = arg
		} else {
			s.printf("Unexpected argument %q.", arg)
			return
		}
	}

	select {
	case s.hub.Inbox() <- msg:
	case <-s.hub.Done():
		return
	}
	var r hub.CreateReply
	select {
	case r = <-msg.Reply:
	case <-s.hub.Done():
		return
	}
	if r.Err != nil {
		s.fail(r.Err)
		return
	}
	s.printf("Table %s created.", r.Table.Code())
	s.sit(r.Table, table.AnySeat)
}

func (s *Session) joinTable(args []string) {
	if len(args) == 0 {
		s.printf("Usage: join <table> [seat]")
		return
	}
	t := s.lookupTable(args[0])
	if t == nil {
		s.fail(table.ErrTableNotFound)
		return
	}
	seat := table.AnySeat
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			s.printf("Seats are numbered from 1.")
			return
		}
		seat = n - 1
	}
	s.sit(t, seat)
}

func (s *Session) sit(t *table.Table, seat int) {
	got, err := t.Sit(s.occupant(), seat)
	if err != nil {
		s.fail(err)
		return
	}
	s.tbl = t
	s.role = rolePlayer
	s.seat = got
	s.printf("You are at table %s, seat %d.", t.Code(), got+1)
}

func (s *Session) watchTable(args []string) {
	if len(args) == 0 {
		s.printf("Usage: watch <table>")
		return
	}
	t := s.lookupTable(args[0])
	if t == nil {
		s.fail(table.ErrTableNotFound)
		return
	}
	if err := t.Watch(s.occupant()); err != nil {
		s.fail(err)
		return
	}
	s.tbl = t
	s.role = roleKibitzer
	s.printf("You are watching table %s.", t.Code())
}

// lookupTable resolves a table code, returning nil for closed or
// unknown tables so both read as "not found" to the user.
func (s *Session) lookupTable(code string) *table.Table {
	reply := make(chan *table.Table, 1)
	select {
	case s.hub.Inbox() <- hub.GetTable{Code: code, Reply: reply}:
	case <-s.hub.Done():
		return nil
	}
	select {
	case t := <-reply:
		return t
	case <-s.hub.Done():
		return nil
	}
}

func (s *Session) who() {
	reply := make(chan []string, 1)
	select {
	case s.hub.Inbox() <- hub.Who{Reply: reply}:
	case <-s.hub.Done():
		return
	}
	select {
	case names := <-reply:
		s.printf("Connected: %s.", strings.Join(names, ", "))
	case <-s.hub.Done():
	}
}

func (s *Session) help() {
	if s.tbl != nil {
		s.printf("Table commands: move <...>, chat <text> (or '<text>), show, start, leave, close, help, quit.")
		return
	}
	s.printf("Lobby commands: tables, games, new <game> [seats] [name] [key=value]..., join <table> [seat], watch <table>, who, help, quit.")
}
