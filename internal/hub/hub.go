// Package hub is the registry of live match tables, an actor keyed by
// match id. A Get for a match that is persisted but not resident reloads
// it from the store and spins its table back up, which is how matches
// survive a process restart.
package hub

import (
	"context"

	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/table"
)

type HubMsg interface{ isHubMsg() }

type EnsureTable struct {
	State engine.State
	Reply chan *table.Table
}

type GetTable struct {
	MatchID string
	Reply   chan *table.Table
}

type RemoveTable struct {
	MatchID string
}

type ShutdownHub struct{}

func (EnsureTable) isHubMsg() {}
func (GetTable) isHubMsg()    {}
func (RemoveTable) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

// Spawner builds a running table for a match document.
type Spawner func(ctx context.Context, st engine.State) *table.Table

// Loader fetches a match document by id; ok is false when it does not
// exist or can no longer be played.
type Loader func(ctx context.Context, matchID string) (engine.State, bool)

type Hub struct {
	inbox  chan HubMsg
	tables map[string]*table.Table
	spawn  Spawner
	load   Loader
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, spawn Spawner, load Loader) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		tables: make(map[string]*table.Table),
		spawn:  spawn,
		load:   load,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureTable:
				if tb := h.tables[msg.State.ID]; tb != nil {
					msg.Reply <- tb
					break
				}
				tb := h.spawn(h.ctx, msg.State)
				h.tables[msg.State.ID] = tb
				msg.Reply <- tb

			case GetTable:
				if tb := h.tables[msg.MatchID]; tb != nil {
					msg.Reply <- tb
					break
				}
				st, ok := h.load(h.ctx, msg.MatchID)
				if !ok {
					msg.Reply <- nil
					break
				}
				tb := h.spawn(h.ctx, st)
				h.tables[msg.MatchID] = tb
				msg.Reply <- tb

			case RemoveTable:
				if tb := h.tables[msg.MatchID]; tb != nil {
					tb.Inbox() <- table.Shutdown{}
					delete(h.tables, msg.MatchID)
				}

			case ShutdownHub:
				for _, tb := range h.tables {
					tb.Inbox() <- table.Shutdown{}
				}
				clear(h.tables)
				h.cancel()
			}
		}
	}
}
