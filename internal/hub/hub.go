// Package hub holds the process-wide directory of tables and the
// roster of connected users. Like a table, the hub is an actor: one
// goroutine owns both maps, so creating or looking up a table never
// contends with gameplay inside any table.
package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/table"
)

var ErrHandleTaken = errors.New("that handle is taken")
var ErrBadHandle = errors.New("handles are 2-16 letters, digits, or underscores, starting with a letter")
var ErrTableExists = errors.New("a table with that name already exists")

var handleRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{1,15}$`)

type HubMsg interface{ isHubMsg() }

type CreateTable struct {
	GameType string
	Seats    int // 0 means the game type's default
	Name     string
	Config   map[string]string
	Reply    chan CreateReply
}

type CreateReply struct {
	Table *table.Table
	Err   error
}

type GetTable struct {
	Code  string
	Reply chan *table.Table
}

type ListTables struct {
	Reply chan []*table.Table
}

type RemoveTable struct{ Code string }

type Register struct {
	ID     string
	Handle string
	Reply  chan error
}

type Unregister struct{ ID string }

type Who struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateTable) isHubMsg() {}
func (GetTable) isHubMsg()    {}
func (ListTables) isHubMsg()  {}
func (RemoveTable) isHubMsg() {}
func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Who) isHubMsg()         {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	tables  map[string]*table.Table
	roster  map[string]string // session id -> handle
	handles map[string]string // lowercased handle -> session id
	games   *game.Registry
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, games *game.Registry, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		tables:  make(map[string]*table.Table),
		roster:  make(map[string]string),
		handles: make(map[string]string),
		games:   games,
		log:     log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed when the hub shuts down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateTable:
				msg.Reply <- h.createTable(msg)

			case GetTable:
				msg.Reply <- h.tables[strings.ToLower(msg.Code)]

			case ListTables:
				ts := make([]*table.Table, 0, len(h.tables))
				for _, t := range h.tables {
					ts = append(ts, t)
				}
				sort.Slice(ts, func(i, j int) bool { return ts[i].Code() < ts[j].Code() })
				msg.Reply <- ts

			case RemoveTable:
				delete(h.tables, strings.ToLower(msg.Code))

			case Register:
				msg.Reply <- h.register(msg.ID, msg.Handle)

			case Unregister:
				if handle, ok := h.roster[msg.ID]; ok {
					delete(h.roster, msg.ID)
					delete(h.handles, strings.ToLower(handle))
				}

			case Who:
				names := make([]string, 0, len(h.roster))
				for _, handle := range h.roster {
					names = append(names, handle)
				}
				sort.Strings(names)
				msg.Reply <- names

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) register(id, handle string) error {
	if !handleRe.MatchString(handle) {
		return ErrBadHandle
	}
	key := strings.ToLower(handle)
	if _, taken := h.handles[key]; taken {
		return ErrHandleTaken
	}
	h.handles[key] = id
	h.roster[id] = handle
	return nil
}

func (h *Hub) createTable(msg CreateTable) CreateReply {
	gt, err := h.games.Lookup(msg.GameType)
	if err != nil {
		return CreateReply{Err: err}
	}
	seats := msg.Seats
	if seats == 0 {
		seats = gt.DefaultSeats
	}
	if seats < gt.MinSeats || seats > gt.MaxSeats {
		return CreateReply{Err: fmt.Errorf("%w: %s seats %d-%d players", game.ErrBadConfig, gt.DisplayName, gt.MinSeats, gt.MaxSeats)}
	}
	// Construct and discard a probe engine so bad table config is
	// caught at creation rather than when the game starts.
	if _, err := gt.New(seats, msg.Config); err != nil {
		return CreateReply{Err: err}
	}

	code := strings.ToLower(msg.Name)
	if code != "" {
		if !handleRe.MatchString(code) {
			return CreateReply{Err: fmt.Errorf("%w: bad table name", game.ErrBadConfig)}
		}
		if _, dup := h.tables[code]; dup {
			return CreateReply{Err: ErrTableExists}
		}
	} else {
		for {
			c, err := generateCode()
			if err != nil {
				return CreateReply{Err: err}
			}
			if _, dup := h.tables[c]; !dup {
				code = c
				break
			}
		}
	}

	t := table.New(h.ctx, code, gt, seats, msg.Config, h.log, func() {
		select {
		case h.inbox <- RemoveTable{Code: code}:
		case <-h.ctx.Done():
		}
	})
	h.tables[code] = t
	h.log.Info("table created", zap.String("table", code), zap.String("game", gt.Name), zap.Int("seats", seats))
	return CreateReply{Table: t}
}

func (h *Hub) shutdown() {
	for _, t := range h.tables {
		select {
		case <-t.Done():
		default:
			// Table loops exit via the hub context; nothing to send.
		}
	}
	clear(h.tables)
	clear(h.roster)
	clear(h.handles)
	h.cancel()
}

func generateCode() (string, error) {
	const charset = "abcdefghjkmnpqrstuvwxyz23456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
