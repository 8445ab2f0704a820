package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/games/set"
	"github.com/gilesd/giles/internal/games/ygame"
	"github.com/gilesd/giles/internal/table"
	"github.com/gilesd/giles/internal/types"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	games := game.NewRegistry()
	for _, gt := range []game.Type{ygame.Type, set.Type} {
		if err := games.Register(gt); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, games, zap.NewNop())
}

func createTable(t *testing.T, h *Hub, msg CreateTable) CreateReply {
	t.Helper()
	msg.Reply = make(chan CreateReply, 1)
	h.Inbox() <- msg
	select {
	case r := <-msg.Reply:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out creating table")
		return CreateReply{}
	}
}

func getTable(t *testing.T, h *Hub, code string) *table.Table {
	t.Helper()
	reply := make(chan *table.Table, 1)
	h.Inbox() <- GetTable{Code: code, Reply: reply}
	select {
	case tbl := <-reply:
		return tbl
	case <-time.After(time.Second):
		t.Fatal("timed out getting table")
		return nil
	}
}

func TestCreateAndGetSamePointer(t *testing.T) {
	h := newTestHub(t)

	r := createTable(t, h, CreateTable{GameType: "y", Name: "corner"})
	if r.Err != nil {
		t.Fatalf("create: %v", r.Err)
	}
	if r.Table.Code() != "corner" {
		t.Fatalf("code = %q", r.Table.Code())
	}
	if got := getTable(t, h, "CORNER"); got != r.Table {
		t.Fatal("lookup should be case-insensitive and return the same table")
	}
}

func TestCreateUnknownGameType(t *testing.T) {
	h := newTestHub(t)
	r := createTable(t, h, CreateTable{GameType: "chess"})
	if !errors.Is(r.Err, game.ErrUnknownGameType) {
		t.Fatalf("got %v, want ErrUnknownGameType", r.Err)
	}
}

func TestCreateValidatesSeatsAndConfig(t *testing.T) {
	h := newTestHub(t)
	if r := createTable(t, h, CreateTable{GameType: "set", Seats: 20}); !errors.Is(r.Err, game.ErrBadConfig) {
		t.Fatalf("oversize table: got %v", r.Err)
	}
	if r := createTable(t, h, CreateTable{GameType: "y", Config: map[string]string{"size": "2"}}); !errors.Is(r.Err, game.ErrBadConfig) {
		t.Fatalf("bad game config must fail at creation: got %v", r.Err)
	}
}

func TestDuplicateTableName(t *testing.T) {
	h := newTestHub(t)
	if r := createTable(t, h, CreateTable{GameType: "y", Name: "dup"}); r.Err != nil {
		t.Fatalf("create: %v", r.Err)
	}
	if r := createTable(t, h, CreateTable{GameType: "set", Name: "dup"}); !errors.Is(r.Err, ErrTableExists) {
		t.Fatalf("got %v, want ErrTableExists", r.Err)
	}
}

func TestGeneratedCodesAreUsable(t *testing.T) {
	h := newTestHub(t)
	r := createTable(t, h, CreateTable{GameType: "set"})
	if r.Err != nil {
		t.Fatalf("create: %v", r.Err)
	}
	if len(r.Table.Code()) != 6 {
		t.Fatalf("generated code = %q", r.Table.Code())
	}
	if got := getTable(t, h, r.Table.Code()); got != r.Table {
		t.Fatal("generated code does not resolve")
	}
}

func TestHandleRegistration(t *testing.T) {
	h := newTestHub(t)

	register := func(id, handle string) error {
		reply := make(chan error, 1)
		h.Inbox() <- Register{ID: id, Handle: handle, Reply: reply}
		select {
		case err := <-reply:
			return err
		case <-time.After(time.Second):
			t.Fatal("timed out registering")
			return nil
		}
	}

	if err := register("s1", "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := register("s2", "ALICE"); !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("case-insensitive clash: got %v", err)
	}
	for _, bad := range []string{"", "a", "1abc", "has space", "waytoolongforahandle"} {
		if err := register("s3", bad); !errors.Is(err, ErrBadHandle) {
			t.Fatalf("register(%q): got %v", bad, err)
		}
	}

	// Releasing the handle makes it available again.
	h.Inbox() <- Unregister{ID: "s1"}
	if err := register("s4", "alice"); err != nil {
		t.Fatalf("register after release: %v", err)
	}
}

func TestWhoListsHandlesSorted(t *testing.T) {
	h := newTestHub(t)
	for i, handle := range []string{"zoe", "anna", "mike"} {
		reply := make(chan error, 1)
		h.Inbox() <- Register{ID: string(rune('a' + i)), Handle: handle, Reply: reply}
		if err := <-reply; err != nil {
			t.Fatalf("register %s: %v", handle, err)
		}
	}
	reply := make(chan []string, 1)
	h.Inbox() <- Who{Reply: reply}
	got := <-reply
	want := []string{"anna", "mike", "zoe"}
	if len(got) != len(want) {
		t.Fatalf("who = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("who = %v, want %v", got, want)
		}
	}
}

func TestClosedTableLeavesRegistry(t *testing.T) {
	h := newTestHub(t)
	r := createTable(t, h, CreateTable{GameType: "set", Name: "brief", Seats: 1})
	if r.Err != nil {
		t.Fatalf("create: %v", r.Err)
	}

	// Seat one player then have them leave; the table empties, closes,
	// and deregisters itself.
	o := table.Occupant{ID: "s1", Handle: "alice", Outbox: make(chan types.Event, 16)}
	if _, err := r.Table.Sit(o, table.AnySeat); err != nil {
		t.Fatalf("sit: %v", err)
	}
	r.Table.Leave("s1")

	select {
	case <-r.Table.Done():
	case <-time.After(time.Second):
		t.Fatal("table did not close")
	}

	deadline := time.Now().Add(time.Second)
	for getTable(t, h, "brief") != nil {
		if time.Now().After(deadline) {
			t.Fatal("closed table still resolvable")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
