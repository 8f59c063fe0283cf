// Package table runs one live match. A Table is an actor in the same style
// as the hub: a single goroutine owns the cached state, the connected
// clients and the turn timers, and everything reaches it through the inbox.
// Mutations themselves go through the store's optimistic-concurrency
// mutator, so a manual action racing an autopilot timer converges on one
// persisted transition.
package table

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/board"
	"github.com/ludoarena/backend/internal/engine"
	"github.com/ludoarena/backend/internal/settle"
	"github.com/ludoarena/backend/internal/store"
	"github.com/ludoarena/backend/internal/types"
)

var errAlreadySettled = errors.New("settlement already processed")

type Msg interface{ isTableMsg() }

// Join attaches (or re-attaches) a connection to its seat. Reconnection
// clears the disconnect flag and triggers a full state re-broadcast; it
// never resets game progress.
type Join struct {
	ClientID string
	Identity string
	Outbox   chan types.ServerMessage
	Reply    chan error
}

func (Join) isTableMsg() {}

// Watch subscribes a read-only spectator to the broadcast stream.
type Watch struct {
	ClientID string
	Outbox   chan types.ServerMessage
}

func (Watch) isTableMsg() {}

type Leave struct{ ClientID string }

func (Leave) isTableMsg() {}

type Roll struct{ ClientID string }

func (Roll) isTableMsg() {}

type Move struct {
	ClientID string
	TokenID  string
}

func (Move) isTableMsg() {}

type Shutdown struct{}

func (Shutdown) isTableMsg() {}

// GetState reflects internal state without data races; test-only.
type GetState struct{ Reply chan engine.State }

func (GetState) isTableMsg() {}

// testHook runs fn inside the loop; test-only, race-free access to internals.
type testHook struct{ fn func(*Table) }

func (testHook) isTableMsg() {}

// autoAct is posted by a turn timer. Seq guards against stale fires: a
// manual action bumps the sequence, so a timer that already fired is
// discarded when its message is processed.
type autoAct struct {
	kind string // "roll" | "move"
	seq  int
}

func (autoAct) isTableMsg() {}

// Timeouts are the per-turn autopilot deadlines plus the UI-facing delay
// before the next seat's clock starts after a dead roll.
type Timeouts struct {
	Roll      time.Duration
	Move      time.Duration
	PassDelay time.Duration
}

type client struct {
	outbox chan types.ServerMessage
	seat   int // -1 for watchers
}

type Table struct {
	inbox   chan Msg
	id      string
	st      engine.State
	clients map[string]client

	mutator  *store.Mutator
	settler  *settle.Engine
	timeouts Timeouts
	dice     func() int
	onClose  func(matchID string)
	log      *zap.Logger

	turnSeq   int
	rollTimer *time.Timer
	moveTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, initial engine.State, mutator *store.Mutator, settler *settle.Engine,
	timeouts Timeouts, onClose func(string), log *zap.Logger) *Table {
	ctx, cancel := context.WithCancel(parent)
	t := &Table{
		inbox:    make(chan Msg, 64),
		id:       initial.ID,
		st:       initial,
		clients:  make(map[string]client),
		mutator:  mutator,
		settler:  settler,
		timeouts: timeouts,
		dice:     func() int { return rand.Intn(board.DiceMax) + 1 },
		onClose:  onClose,
		log:      log.With(zap.String("match_id", initial.ID)),
		ctx:      ctx,
		cancel:   cancel,
	}
	go t.loop()
	return t
}

func (t *Table) Inbox() chan<- Msg { return t.inbox }

func (t *Table) loop() {
	defer t.stopTimers()
	t.armTimers(0)

	for {
		select {
		case <-t.ctx.Done():
			t.shutdown()
			return

		case m := <-t.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- t.handleJoin(msg)
			case Watch:
				t.clients[msg.ClientID] = client{outbox: msg.Outbox, seat: -1}
				t.send(msg.ClientID, types.StateFrame(t.st))
			case Leave:
				t.handleLeave(msg.ClientID)
			case Roll:
				t.handleRoll(msg.ClientID)
			case Move:
				t.handleMove(msg.ClientID, msg.TokenID)
			case autoAct:
				t.handleAuto(msg)
			case GetState:
				msg.Reply <- t.st.Clone()
			case testHook:
				msg.fn(t)
			case Shutdown:
				t.shutdown()
				return
			}
		}
	}
}

func (t *Table) handleJoin(msg Join) error {
	seat := t.st.SeatByConn(msg.ClientID)
	if seat == -1 {
		seat = t.st.SeatByIdentity(msg.Identity)
	}
	if seat == -1 {
		return errors.New("no seat in this match")
	}

	ns, _, err := t.mutator.Mutate(t.ctx, t.id, func(cur engine.State) (engine.State, []engine.Event, error) {
		return engine.AttachSeat(cur, seat, msg.ClientID), nil, nil
	})
	if err != nil {
		return err
	}

	t.st = ns
	t.clients[msg.ClientID] = client{outbox: msg.Outbox, seat: seat}
	t.broadcast(types.StateFrame(t.st))
	t.armTimers(0)
	return nil
}

func (t *Table) handleLeave(clientID string) {
	c, ok := t.clients[clientID]
	if !ok {
		return
	}
	delete(t.clients, clientID)
	if c.seat == -1 {
		return
	}

	// The seat keeps its identity; autopilot plays on through the armed
	// timers. A disconnect never touches an in-flight settlement.
	ns, _, err := t.mutator.Mutate(t.ctx, t.id, func(cur engine.State) (engine.State, []engine.Event, error) {
		if cur.TurnState == engine.TurnGameOver {
			return cur, nil, engine.ErrGameOver
		}
		return engine.DetachSeat(cur, c.seat), nil, nil
	})
	if err != nil {
		return
	}
	t.st = ns
	t.broadcast(types.StateFrame(t.st))
}

func (t *Table) handleRoll(clientID string) {
	c, ok := t.clients[clientID]
	if !ok || c.seat == -1 {
		t.send(clientID, types.ErrorFrame(types.CodeNotASeat, "watchers cannot act"))
		return
	}
	t.roll(c.seat, clientID)
}

func (t *Table) handleMove(clientID, tokenID string) {
	c, ok := t.clients[clientID]
	if !ok || c.seat == -1 {
		t.send(clientID, types.ErrorFrame(types.CodeNotASeat, "watchers cannot act"))
		return
	}
	t.move(c.seat, tokenID, clientID)
}

func (t *Table) handleAuto(msg autoAct) {
	if msg.seq != t.turnSeq {
		return // cancelled by a manual action or a newer turn
	}
	seat := t.st.CurrentPlayerIndex
	acted := false
	switch msg.kind {
	case "roll":
		t.log.Info("autopilot rolling", zap.Int("seat", seat))
		acted = t.roll(seat, "")
	case "move":
		mv := chooseMove(t.st)
		if mv.TokenID == "" {
			break
		}
		t.log.Info("autopilot moving", zap.Int("seat", seat), zap.String("token", mv.TokenID))
		acted = t.move(seat, mv.TokenID, "")
	}
	if !acted {
		// Transient failure (e.g. retry budget exhausted): rearm so the
		// turn cannot hang.
		t.armTimers(0)
	}
}

// roll performs one dice roll for a seat. The die is fixed before the
// mutation so persistence retries replay the same value.
func (t *Table) roll(seat int, clientID string) bool {
	die := t.dice()
	events, ok := t.apply(clientID, engine.Command{Type: engine.CmdRoll, Seat: seat, Die: die})
	if !ok {
		return false
	}
	t.afterMutation(events)
	return true
}

func (t *Table) move(seat int, tokenID, clientID string) bool {
	events, ok := t.apply(clientID, engine.Command{Type: engine.CmdMove, Seat: seat, TokenID: tokenID})
	if !ok {
		return false
	}
	t.afterMutation(events)
	return true
}

// apply runs one engine command through the mutator and broadcasts the
// resulting snapshot. Validation failures reach only the acting client.
func (t *Table) apply(clientID string, cmd engine.Command) ([]engine.Event, bool) {
	ns, events, err := t.mutator.Mutate(t.ctx, t.id, func(cur engine.State) (engine.State, []engine.Event, error) {
		evts, next, err := engine.Apply(cur, cmd)
		return next, evts, err
	})
	if err != nil {
		if clientID != "" {
			t.send(clientID, errorFrameFor(err))
		} else {
			t.log.Warn("autopilot action rejected", zap.Error(err))
		}
		return nil, false
	}

	t.st = ns
	t.broadcast(types.StateFrame(t.st))
	return events, true
}

func (t *Table) afterMutation(events []engine.Event) {
	if hasEvent(events, engine.EvtGameCompleted) {
		t.stopTimers()
		t.turnSeq++
		t.finish()
		return
	}

	// After a dead roll the turn already passed; hold the next seat's
	// clock briefly so clients can show the unusable dice first.
	var delay time.Duration
	if hasEvent(events, engine.EvtNoLegalMoves) {
		delay = t.timeouts.PassDelay
	}
	t.armTimers(delay)
}

// armTimers cancels any outstanding deadline and arms the one matching the
// current turn state for the current seat.
func (t *Table) armTimers(extra time.Duration) {
	t.stopTimers()
	t.turnSeq++
	seq := t.turnSeq

	if t.st.Status != engine.StatusActive {
		return
	}

	switch t.st.TurnState {
	case engine.TurnRolling:
		t.rollTimer = time.AfterFunc(extra+t.timeouts.Roll, func() {
			select {
			case t.inbox <- autoAct{kind: "roll", seq: seq}:
			case <-t.ctx.Done():
			}
		})
	case engine.TurnMoving:
		t.moveTimer = time.AfterFunc(extra+t.timeouts.Move, func() {
			select {
			case t.inbox <- autoAct{kind: "move", seq: seq}:
			case <-t.ctx.Done():
			}
		})
	}
}

func (t *Table) stopTimers() {
	if t.rollTimer != nil {
		t.rollTimer.Stop()
		t.rollTimer = nil
	}
	if t.moveTimer != nil {
		t.moveTimer.Stop()
		t.moveTimer = nil
	}
}

// finish settles a completed match. Every ledger and bookkeeping write in
// Settle is ref-keyed on the match id, so it may run any number of times;
// settlementProcessed flips only after they all succeed. A ledger outage or
// a crash before the flip leaves the flag unset and the recovery sweep
// settles the match later.
func (t *Table) finish() {
	if t.st.SettlementProcessed {
		t.close()
		return
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = t.settler.Settle(t.ctx, t.st); err == nil {
			break
		}
		t.log.Error("settlement attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	if err != nil {
		t.log.Error("settlement unfinished, leaving match to the recovery sweep", zap.Error(err))
		t.close()
		return
	}

	ns, _, err := t.mutator.Mutate(t.ctx, t.id, func(cur engine.State) (engine.State, []engine.Event, error) {
		if cur.SettlementProcessed {
			return cur, nil, errAlreadySettled
		}
		next := cur.Clone()
		next.SettlementProcessed = true
		return next, nil, nil
	})
	if err != nil {
		if !errors.Is(err, errAlreadySettled) {
			t.log.Error("settlement flag persist failed", zap.Error(err))
		}
		t.close()
		return
	}

	t.st = ns
	t.broadcast(types.StateFrame(t.st))
	t.close()
}

func (t *Table) close() {
	if t.onClose != nil {
		t.onClose(t.id)
	}
}

func (t *Table) shutdown() {
	// Outboxes are owned by the connection handlers; dropping the map
	// entries is enough.
	clear(t.clients)
	t.cancel()
}

func (t *Table) send(clientID string, msg types.ServerMessage) {
	c, ok := t.clients[clientID]
	if !ok {
		return
	}
	select {
	case c.outbox <- msg:
	default:
		// Slow client: drop it rather than block the match.
		delete(t.clients, clientID)
	}
}

func (t *Table) broadcast(msg types.ServerMessage) {
	for id, c := range t.clients {
		select {
		case c.outbox <- msg:
		default:
			delete(t.clients, id)
		}
	}
}

func errorFrameFor(err error) types.ServerMessage {
	switch {
	case errors.Is(err, engine.ErrNotYourTurn):
		return types.ErrorFrame(types.CodeNotYourTurn, err.Error())
	case errors.Is(err, engine.ErrWrongTurnState):
		return types.ErrorFrame(types.CodeWrongTurnState, err.Error())
	case errors.Is(err, engine.ErrIllegalMove):
		return types.ErrorFrame(types.CodeInvalidMove, err.Error())
	case errors.Is(err, engine.ErrGameOver):
		return types.ErrorFrame(types.CodeMatchOver, err.Error())
	case errors.Is(err, engine.ErrMatchNotStarted):
		return types.ErrorFrame(types.CodeMatchNotStarted, err.Error())
	case errors.Is(err, store.ErrConflict):
		return types.ErrorFrame(types.CodeTryAgain, "state changed underneath you, resync and retry")
	case errors.Is(err, store.ErrNotFound):
		return types.ErrorFrame(types.CodeMatchNotFound, err.Error())
	default:
		return types.ErrorFrame(types.CodeBadMessage, err.Error())
	}
}

func hasEvent(events []engine.Event, et engine.EventType) bool {
	for _, e := range events {
		if e.Type == et {
			return true
		}
	}
	return false
}
