// Package runner implements the Session Runner (spec.md §4.4): one runner
// per participant, a single cooperative goroutine pair reading and writing
// the WebSocket (kept from the teacher's internal/v1/session/client.go
// readPump/writePump almost verbatim) feeding a single-threaded dispatch
// loop so that no two modules for the same participant ever execute
// concurrently.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/metrics"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// Conn is the minimal WebSocket surface the runner depends on, mirroring
// the teacher's wsConnection interface so tests can substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// wireMessage is the JSON envelope carried over the
// opentalk-signaling-json-v1.0 subprotocol (spec.md §6), replacing the
// teacher's protobuf-framed session.Message.
type wireMessage struct {
	Namespace module.Namespace `json:"namespace"`
	Event     string           `json:"event"`
	Payload   json.RawMessage  `json:"payload"`
}

const (
	skipWaitingRoomRefreshInterval = 60 * time.Second
	writeWait                      = 10 * time.Second
)

// Runner owns one participant's session for the lifetime of its WebSocket
// connection.
type Runner struct {
	conn       Conn
	send       chan []byte
	inbox      chan wireMessage
	exchangeCh chan exchange.Envelope
	exch       exchange.Exchange
	vstore     store.Store

	room        ids.SignalingRoomID
	participant ids.ParticipantID
	role        string
	resumption  time.Duration

	modules      map[module.Namespace]module.Module
	modOrder     []module.Namespace
	activeModule module.Namespace
	exchSub      exchange.Subscription
	extraSubs    []exchange.Subscription
	shutdown     chan struct{}
	closeCode    int
	exited       bool

	leaveBefore func(ctx context.Context) module.CleanupScope
	leaveAfter  func(ctx context.Context, scope module.CleanupScope)
}

// SetLeaveHooks wires the room lifecycle controller's leave-algorithm steps
// around the module dispatch this runner already owns (spec.md §4.4 "Leave
// algorithm"): before runs after Leaving is delivered to every module but
// before OnDestroy (participant-set removal, counter decrement, cleanup
// scope computation); after runs once OnDestroy has been delivered
// (global-scope key teardown, publishing Left). Mirrors the teacher's
// Room.onEmpty callback (internal/v1/session/room.go) — the runner stays
// ignorant of how the lifecycle controller stores state.
func (r *Runner) SetLeaveHooks(before func(ctx context.Context) module.CleanupScope, after func(ctx context.Context, scope module.CleanupScope)) {
	r.leaveBefore = before
	r.leaveAfter = after
}

// New builds a Runner bound to an already-upgraded connection. Install
// modules with AddModule before calling Run.
func New(conn Conn, exch exchange.Exchange, vstore store.Store, room ids.SignalingRoomID, participant ids.ParticipantID, role string, resumptionKeepAlive time.Duration) *Runner {
	return &Runner{
		conn:       conn,
		send:       make(chan []byte, 16),
		inbox:      make(chan wireMessage, 16),
		exchangeCh: make(chan exchange.Envelope, 16),
		exch:       exch,
		vstore:     vstore,
		room:       room,
		participant: participant,
		role:       role,
		resumption: resumptionKeepAlive,
		modules:    make(map[module.Namespace]module.Module),
		shutdown:   make(chan struct{}, 1),
	}
}

// AddModule registers a built Module instance under its namespace, in
// call order — this fixes the declaration order Joined/Leaving/OnDestroy
// are delivered in (spec.md §4.4).
func (r *Runner) AddModule(m module.Module) {
	ns := m.Namespace()
	if _, exists := r.modules[ns]; !exists {
		r.modOrder = append(r.modOrder, ns)
	}
	r.modules[ns] = m
}

// RequestShutdown signals the runner to finish current processing, flush,
// and exit — the capacity-1 shutdown broadcast of spec.md §5.
func (r *Runner) RequestShutdown() {
	select {
	case r.shutdown <- struct{}{}:
	default:
	}
}

func (r *Runner) mctx() module.Context { return (*runnerContext)(r) }

// Run starts the read/write pumps and drives the cooperative dispatch
// loop until the connection closes or shutdown is requested. It blocks
// until the session ends.
func (r *Runner) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.IncConnection()
	defer metrics.DecConnection()
	defer func() {
		for _, sub := range r.extraSubs {
			_ = sub.Close()
		}
	}()

	go r.readPump()
	go r.writePump()

	// Every session binds all four routing-key shapes of spec.md §4.2: the
	// two room-scoped keys (this signaling room, and the base room plus all
	// its breakouts) and the two participant-scoped keys collapse to one
	// subscription each since ParticipantID is already globally unique and
	// stable for the session's lifetime.
	sub, err := r.exch.Subscribe(ctx, exchange.RoomKey(r.room), r.onExchangeDelivery)
	if err == nil {
		r.exchSub = sub
		defer sub.Close()
	} else {
		slog.Error("runner: exchange subscribe failed", "room", r.room.String(), "error", err)
	}

	if sub, err := r.exch.Subscribe(ctx, exchange.ParticipantKey(r.participant), r.onExchangeDelivery); err == nil {
		r.extraSubs = append(r.extraSubs, sub)
	} else {
		slog.Error("runner: participant exchange subscribe failed", "participant", r.participant.String(), "error", err)
	}

	if sub, err := r.exch.Subscribe(ctx, exchange.GlobalRoomKey(r.room.Room), r.onExchangeDelivery); err == nil {
		r.extraSubs = append(r.extraSubs, sub)
	} else {
		slog.Error("runner: global room exchange subscribe failed", "room", r.room.Room.String(), "error", err)
	}

	r.runInit(ctx)

	refreshTicker := time.NewTicker(skipWaitingRoomRefreshInterval)
	defer refreshTicker.Stop()
	var resumeTicker *time.Ticker
	var resumeC <-chan time.Time
	if r.resumption > 0 {
		resumeTicker = time.NewTicker(r.resumption)
		defer resumeTicker.Stop()
		resumeC = resumeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.runDestroy(context.Background())
			close(r.send)
			return
		case <-r.shutdown:
			r.runDestroy(context.Background())
			close(r.send)
			return
		case msg, ok := <-r.inbox:
			if !ok {
				r.runDestroy(context.Background())
				close(r.send)
				return
			}
			r.dispatchWsMessage(ctx, msg)
		case env := <-r.exchangeCh:
			r.dispatchExchange(ctx, env)
		case <-refreshTicker.C:
			_ = r.vstore.SkipWaitingRoomRefreshExpiry(ctx, r.participant, 120*time.Second)
		case <-resumeC:
			r.sendKeepAlive()
		}
		if r.exited {
			r.runDestroy(context.Background())
			close(r.send)
			return
		}
	}
}

// onExchangeDelivery is passed to exchange.Subscribe; it hands the
// envelope to the dispatch loop without ever calling a module directly,
// preserving the single-threaded-per-participant guarantee. Unlike the
// policy-sync fabric (internal/policysync), which suppresses loopback by
// correlation id, a session runner does not filter by SenderID: spec.md
// §4.2 is explicit that "a publisher never receives its own message back
// unless it is also bound to the target key" — and a runner is only ever
// bound to the keys it legitimately subscribes to, so any delivery that
// reaches here (including one this same participant published, e.g. a
// global chat message or a moderator's own debrief) is meant to be seen.
func (r *Runner) onExchangeDelivery(env exchange.Envelope) {
	select {
	case r.exchangeCh <- env:
	default:
		slog.Warn("runner: exchange channel full, dropping delivery", "participant", r.participant.String())
	}
}

func (r *Runner) sendKeepAlive() {
	r.sendWire(wireMessage{Namespace: "control", Event: "keep_alive", Payload: json.RawMessage("{}")})
}
