// Package ws is the websocket edge. Each connection gets one reader loop,
// one writer goroutine and one outbox channel; everything behind it is
// reached through actor inboxes.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/auth"
	"github.com/ludoarena/backend/internal/hub"
	"github.com/ludoarena/backend/internal/queue"
	"github.com/ludoarena/backend/internal/table"
	"github.com/ludoarena/backend/internal/types"
	"github.com/ludoarena/backend/internal/wallet"
)

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 3 * time.Second
)

func Handler(verifier auth.Verifier, h *hub.Hub, q *queue.Queue, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		s := &session{
			conn:     conn,
			out:      make(chan types.ServerMessage, 16),
			clientID: clientID,
			identity: identity,
			hub:      h,
			queue:    q,
			log:      log.With(zap.String("client_id", clientID)),
		}
		s.run(r.Context())
	}
}

type session struct {
	conn     *websocket.Conn
	out      chan types.ServerMessage
	clientID string
	identity auth.Identity
	hub      *hub.Hub
	queue    *queue.Queue
	log      *zap.Logger

	// Reader-loop state. The outbox channel is the only thing other
	// goroutines touch.
	tbl         *table.Table
	searchStake int64
	searching   bool
}

func (s *session) run(ctx context.Context) {
	s.log.Info("client connected", zap.String("identity", s.identity.UserID))
	defer s.log.Info("client disconnected")
	defer s.cleanup()

	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go s.writer(writeCtx)

	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := s.conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			s.push(types.ErrorFrame(types.CodeBadMessage, "bad json"))
			continue
		}
		s.dispatch(cm)
	}
}

func (s *session) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.out:
			payload, _ := json.Marshal(msg)
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = s.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
		}
	}
}

func (s *session) dispatch(cm types.ClientMessage) {
	switch cm.Type {
	case "search_match":
		s.search(cm)
	case "cancel_search":
		s.cancelSearch()
	case "join":
		s.join(cm.MatchID)
	case "watch":
		s.watch(cm.MatchID)
	case "roll":
		if s.tbl == nil {
			s.push(types.ErrorFrame(types.CodeMatchNotFound, "join a match first"))
			return
		}
		s.tbl.Inbox() <- table.Roll{ClientID: s.clientID}
	case "move":
		if s.tbl == nil {
			s.push(types.ErrorFrame(types.CodeMatchNotFound, "join a match first"))
			return
		}
		s.tbl.Inbox() <- table.Move{ClientID: s.clientID, TokenID: cm.TokenID}
	default:
		s.push(types.ErrorFrame(types.CodeBadMessage, "unknown type "+cm.Type))
	}
}

func (s *session) search(cm types.ClientMessage) {
	if cm.Stake < 0 {
		s.push(types.ErrorFrame(types.CodeBadMessage, "negative stake"))
		return
	}

	reply := make(chan error, 1)
	s.queue.Inbox() <- queue.Search{
		Identity:    s.identity.UserID,
		DisplayName: s.identity.DisplayName,
		ConnRef:     s.clientID,
		Stake:       cm.Stake,
		Notify:      s.notifyMatched,
		Reply:       reply,
	}
	switch err := <-reply; {
	case err == nil:
		s.searching, s.searchStake = true, cm.Stake
		s.push(types.ServerMessage{Type: "queued", Stake: cm.Stake})
	case errors.Is(err, queue.ErrAlreadyQueued):
		s.push(types.ErrorFrame(types.CodeAlreadySearching, err.Error()))
	case errors.Is(err, wallet.ErrInsufficientFunds):
		s.push(types.ErrorFrame(types.CodeInsufficientFunds, err.Error()))
	default:
		s.push(types.ErrorFrame(types.CodeTryAgain, err.Error()))
	}
}

// notifyMatched runs on the queue goroutine; it must only touch the outbox.
func (s *session) notifyMatched(m queue.Matched) {
	me := m.Match.Players[m.Seat]
	opp := m.Match.Players[1-m.Seat]
	s.push(types.ServerMessage{
		Type:     "match_found",
		MatchID:  m.Match.ID,
		Color:    string(me.Color),
		Opponent: opp.DisplayName,
		Stake:    m.Match.Stake,
	})
}

func (s *session) cancelSearch() {
	reply := make(chan bool, 1)
	s.queue.Inbox() <- queue.Cancel{ConnRef: s.clientID, Stake: s.searchStake, Reply: reply}
	if <-reply {
		s.searching = false
		s.push(types.ServerMessage{Type: "search_cancelled"})
		return
	}
	s.push(types.ErrorFrame(types.CodeBadMessage, "not searching"))
}

func (s *session) join(matchID string) {
	tb := s.lookup(matchID)
	if tb == nil {
		return
	}

	reply := make(chan error, 1)
	tb.Inbox() <- table.Join{
		ClientID: s.clientID,
		Identity: s.identity.UserID,
		Outbox:   s.out,
		Reply:    reply,
	}
	if err := <-reply; err != nil {
		s.push(types.ErrorFrame(types.CodeNotASeat, err.Error()))
		return
	}
	s.leaveCurrent()
	s.tbl = tb
	s.searching = false // a seated player is no longer queued
}

func (s *session) watch(matchID string) {
	tb := s.lookup(matchID)
	if tb == nil {
		return
	}
	s.leaveCurrent()
	tb.Inbox() <- table.Watch{ClientID: s.clientID, Outbox: s.out}
	s.tbl = tb
}

func (s *session) lookup(matchID string) *table.Table {
	if matchID == "" {
		s.push(types.ErrorFrame(types.CodeBadMessage, "missing match_id"))
		return nil
	}
	reply := make(chan *table.Table, 1)
	s.hub.Inbox() <- hub.GetTable{MatchID: matchID, Reply: reply}
	tb := <-reply
	if tb == nil {
		s.push(types.ErrorFrame(types.CodeMatchNotFound, "no such match"))
	}
	return tb
}

func (s *session) leaveCurrent() {
	if s.tbl != nil {
		s.tbl.Inbox() <- table.Leave{ClientID: s.clientID}
		s.tbl = nil
	}
}

func (s *session) cleanup() {
	if s.searching {
		reply := make(chan bool, 1)
		s.queue.Inbox() <- queue.Cancel{ConnRef: s.clientID, Stake: s.searchStake, Reply: reply}
		<-reply
	}
	s.leaveCurrent()
}

// push never blocks; a full outbox drops the frame, the same policy the
// table applies to slow clients.
func (s *session) push(msg types.ServerMessage) {
	select {
	case s.out <- msg:
	default:
	}
}
