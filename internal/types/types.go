package types

// EventKind tags an event delivered to a session's outbox.
type EventKind string

const (
	// EvtView carries a freshly rendered per-viewer projection of a
	// table's game state.
	EvtView EventKind = "View"
	// EvtInfo is a table announcement: joins, leaves, lifecycle
	// transitions, move narration.
	EvtInfo EventKind = "Info"
	// EvtChat is table chat from another occupant (or yourself).
	EvtChat EventKind = "Chat"
	// EvtClosed tells the session its table is gone and it is back in
	// the lobby.
	EvtClosed EventKind = "Closed"
)

// Event is the unit of delivery from a table to an occupant. Sessions
// render these to text lines; the websocket transport could ship them
// as-is.
type Event struct {
	Kind  EventKind `json:"kind"`
	Table string    `json:"table,omitempty"`
	From  string    `json:"from,omitempty"` // chat sender handle
	Text  string    `json:"text,omitempty"`
}
