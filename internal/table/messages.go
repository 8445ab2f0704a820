package table

import "github.com/gilesd/giles/internal/types"

type Msg interface{ isTableMsg() }

// Occupant is a table's handle on a connected session: an identity and
// the outbox its events are delivered to. The table never learns
// anything else about the session.
type Occupant struct {
	ID     string
	Handle string
	Outbox chan<- types.Event
}

// Sit requests a player seat. Seat is a 0-based index, or AnySeat.
type Sit struct {
	Occ   Occupant
	Seat  int
	Reply chan SitReply
}

const AnySeat = -1

type SitReply struct {
	Seat int
	Err  error
}

// Watch requests kibitzer membership.
type Watch struct {
	Occ   Occupant
	Reply chan error
}

// Leave removes the occupant with the given ID, whatever their role.
// Disconnects are delivered as plain Leaves.
type Leave struct{ ID string }

// Move forwards a game move payload verbatim to the engine.
type Move struct {
	ID      string
	Payload string
	Reply   chan error
}

// Chat broadcasts table chat.
type Chat struct {
	ID   string
	Text string
}

// Start begins the game before every seat has filled.
type Start struct {
	ID    string
	Reply chan error
}

// Close tears down a finished table.
type Close struct {
	ID    string
	Reply chan error
}

// Show re-sends the occupant their current view of the game.
type Show struct{ ID string }

// Snapshot asks for a point-in-time description of the table, used by
// the lobby listing, the HTTP surface, and tests.
type Snapshot struct{ Reply chan Info }

// Shutdown closes the table unconditionally (server shutdown).
type Shutdown struct{}

func (Sit) isTableMsg()      {}
func (Watch) isTableMsg()    {}
func (Leave) isTableMsg()    {}
func (Move) isTableMsg()     {}
func (Chat) isTableMsg()     {}
func (Start) isTableMsg()    {}
func (Show) isTableMsg()     {}
func (Close) isTableMsg()    {}
func (Snapshot) isTableMsg() {}
func (Shutdown) isTableMsg() {}

// SeatInfo describes one seat in a snapshot.
type SeatInfo struct {
	Handle string `json:"handle,omitempty"`
	Vacant bool   `json:"vacant,omitempty"`
}

// Info is a point-in-time description of a table.
type Info struct {
	Code      string     `json:"code"`
	Game      string     `json:"game"`
	State     State      `json:"state"`
	Paused    bool       `json:"paused,omitempty"`
	Seats     []SeatInfo `json:"seats"`
	Kibitzers []string   `json:"kibitzers,omitempty"`
}
