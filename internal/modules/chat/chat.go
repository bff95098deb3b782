// Package chat implements the reference Chat Module (spec.md §4.6),
// grounded on the teacher's session.ChatInfo/addChat/getRecentChats/
// deleteChat trio (internal/v1/session/chat_helpers.go,
// session/methods.go): a per-room history list, role-gated enable/
// disable, and a scope-dispatched send path. The teacher's single global
// room history becomes three store-backed histories (global/group/
// private) addressed through store.ChatScope.
package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// Namespace is the wire/frontend-data namespace this module owns.
const Namespace module.Namespace = "chat"

const maxMessageBytes = 4096

// Params are the per-session init parameters the HTTP handoff layer
// supplies: the tenant-scoped groups this participant belongs to, read
// from the (out-of-scope) identity/event collaborator at join time.
type Params struct {
	Groups []string `json:"groups,omitempty"`
}

// Builder produces one Module instance per joining session.
type Builder struct{}

var _ module.Builder = Builder{}

func (Builder) ModuleID() module.Namespace { return Namespace }

func (Builder) ProvidedFeatures() []module.Feature { return []module.Feature{"chat"} }

func (Builder) Build(params json.RawMessage) (module.Module, error) {
	var p Params
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("chat: decode params: %w", err)
		}
	}
	return &Module{groups: p.Groups}, nil
}

// scopeKind/incoming command/outgoing event wire shapes (spec.md §6, §4.6).
type scopeWire struct {
	Kind  string `json:"kind"` // "global" | "group" | "private"
	Group string `json:"group,omitempty"`
	Peer  string `json:"peer,omitempty"`
}

type command struct {
	Type      string    `json:"type"`
	Scope     scopeWire `json:"scope,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

type storedMessage struct {
	MessageID string    `json:"message_id"`
	Source    string    `json:"source"`
	Scope     scopeWire `json:"scope"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
}

type outgoing struct {
	Type    string         `json:"type"`
	Message *storedMessage `json:"message,omitempty"`
	Code    apierr.Code    `json:"code,omitempty"`
}

// Module is one participant's chat module instance.
type Module struct {
	groups []string

	// Last-seen timestamps are state-local until Leaving flushes them to
	// the store (spec.md §4.6 "SetLastSeenTimestamp is state-local until
	// Leaving, at which point it is flushed to the appropriate hash").
	lastSeenGlobal  *int64
	lastSeenPrivate map[ids.ParticipantID]int64
	lastSeenGroup   map[string]int64
}

var _ module.Module = (*Module)(nil)

func (m *Module) Namespace() module.Namespace { return Namespace }

func (m *Module) Init(_ context.Context, _ module.Context) error { return nil }

func (m *Module) OnEvent(ctx context.Context, mctx module.Context, ev module.Event) (module.OnEventResult, error) {
	switch e := ev.(type) {
	case module.Joined:
		return m.onJoined(ctx, mctx, e)
	case module.Leaving:
		m.flushLastSeen(ctx, mctx)
		return module.OnEventResult{}, nil
	case module.WsMessage:
		return module.OnEventResult{}, m.onCommand(ctx, mctx, e.Command)
	case module.ExchangeMessage:
		return module.OnEventResult{}, mctx.WsSend(ctx, Namespace, e.Envelope.Payload)
	}
	return module.OnEventResult{}, nil
}

func (m *Module) OnDestroy(ctx context.Context, mctx module.Context, scope module.CleanupScope) error {
	if scope == module.CleanupNone {
		return nil
	}
	room := mctx.Room()
	st := mctx.Store()

	_ = st.ChatHistoryDelete(ctx, room, store.ChatScope{Kind: store.ChatGlobal})
	_ = st.ChatCorrespondentsDelete(ctx, room)
	_ = st.ChatEnabledDelete(ctx, room)

	// Group-history cleanup uses the group-membership counter (under the
	// store's own mutex) to decide whether this was the last member of
	// each group this participant belonged to (spec.md §4.6).
	for _, g := range m.groups {
		if n, err := st.ChatGroupMembershipDecr(ctx, room, g); err == nil && n <= 0 {
			_ = st.ChatHistoryDelete(ctx, room, store.ChatScope{Kind: store.ChatGroup, Group: g})
		}
	}
	return nil
}

func (m *Module) onJoined(ctx context.Context, mctx module.Context, e module.Joined) (module.OnEventResult, error) {
	for _, g := range m.groups {
		_, _ = mctx.Store().ChatGroupMembershipIncr(ctx, mctx.Room(), g)
	}

	// common_groups peer view: intersect this participant's groups with
	// each already-present peer's groups (spec.md §4.6 "on join"). Without
	// a directory of peers' group membership in this store layer, the
	// frontend view reports this participant's own groups; the runner's
	// ParticipantJoined broadcast lets peers recompute the intersection
	// against their own list when they receive it.
	peerView, _ := json.Marshal(map[string]any{"groups": m.groups})
	result := module.OnEventResult{
		FrontendData:     mustMarshal(map[string]any{"enabled": chatEnabledOrDefault(ctx, mctx)}),
		PeerFrontendData: make(map[ids.ParticipantID]json.RawMessage, len(e.Peers)),
	}
	for _, peer := range e.Peers {
		result.PeerFrontendData[peer] = peerView
	}
	return result, nil
}

func chatEnabledOrDefault(ctx context.Context, mctx module.Context) bool {
	enabled, err := mctx.Store().ChatEnabledGet(ctx, mctx.Room())
	if err != nil {
		return true
	}
	return enabled
}

func (m *Module) onCommand(ctx context.Context, mctx module.Context, raw json.RawMessage) error {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return fmt.Errorf("chat: decode command: %w", err)
	}

	switch cmd.Type {
	case "enable_chat":
		return m.setEnabled(ctx, mctx, true)
	case "disable_chat":
		return m.setEnabled(ctx, mctx, false)
	case "clear_history":
		return m.clearHistory(ctx, mctx)
	case "send_message":
		return m.sendMessage(ctx, mctx, cmd)
	case "set_last_seen_timestamp":
		return m.setLastSeen(ctx, mctx, cmd)
	}
	return nil
}

func (m *Module) setEnabled(ctx context.Context, mctx module.Context, enabled bool) error {
	if mctx.Role() != "moderator" {
		return sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	if err := mctx.Store().ChatEnabledSet(ctx, mctx.Room(), enabled); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	evType := "chat_enabled"
	if !enabled {
		evType = "chat_disabled"
	}
	return publishToRoom(ctx, mctx, outgoing{Type: evType})
}

func (m *Module) clearHistory(ctx context.Context, mctx module.Context) error {
	if mctx.Role() != "moderator" {
		return sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	if err := mctx.Store().ChatHistoryDelete(ctx, mctx.Room(), store.ChatScope{Kind: store.ChatGlobal}); err != nil {
		return sendError(ctx, mctx, apierr.CodeInternal)
	}
	return publishToRoom(ctx, mctx, outgoing{Type: "history_cleared"})
}

func (m *Module) sendMessage(ctx context.Context, mctx module.Context, cmd command) error {
	content := truncateAtRuneBoundary(cmd.Content, maxMessageBytes)
	if len(content) == 0 {
		return nil // empty content is discarded silently (spec.md §4.6)
	}

	enabled, err := mctx.Store().ChatEnabledGet(ctx, mctx.Room())
	if err != nil {
		enabled = true
	}
	if !enabled {
		return sendError(ctx, mctx, apierr.CodeChatDisabled)
	}

	msg := storedMessage{
		MessageID: ids.New[ids.MessageID]().String(),
		Source:    mctx.Participant().String(),
		Scope:     cmd.Scope,
		Content:   content,
		Timestamp: mctx.Timestamp().UnixMilli(),
	}

	switch cmd.Scope.Kind {
	case "group":
		if !containsGroup(m.groups, cmd.Scope.Group) {
			return nil
		}
		data, _ := json.Marshal(msg)
		if err := mctx.Store().ChatHistoryPush(ctx, mctx.Room(), store.ChatScope{Kind: store.ChatGroup, Group: cmd.Scope.Group}, data); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		return mctx.ExchangePublish(ctx, exchange.RoomNamespaceKey(mctx.Room(), "chat:group:"+cmd.Scope.Group), mustMarshal(outgoing{Type: "message_sent", Message: &msg}))

	case "private":
		peer, err := ids.ParseParticipantID(cmd.Scope.Peer)
		if err != nil {
			return nil
		}
		pair := store.SortedPair(mctx.Participant(), peer)
		data, _ := json.Marshal(msg)
		if err := mctx.Store().ChatHistoryPush(ctx, mctx.Room(), store.ChatScope{Kind: store.ChatPrivate, Pair: pair}, data); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		if err := mctx.Store().ChatCorrespondentsAdd(ctx, mctx.Room(), pair); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		if err := mctx.ExchangePublish(ctx, exchange.ParticipantKey(peer), mustMarshal(outgoing{Type: "message_sent", Message: &msg})); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "message_sent", Message: &msg}))

	default: // global
		data, _ := json.Marshal(msg)
		if err := mctx.Store().ChatHistoryPush(ctx, mctx.Room(), store.ChatScope{Kind: store.ChatGlobal}, data); err != nil {
			return sendError(ctx, mctx, apierr.CodeInternal)
		}
		return publishToRoom(ctx, mctx, outgoing{Type: "message_sent", Message: &msg})
	}
}

// setLastSeen keeps the new last-seen timestamp in participant-local
// state only; it is flushed to the store when Leaving is delivered
// (spec.md §4.6).
func (m *Module) setLastSeen(_ context.Context, mctx module.Context, cmd command) error {
	ts := cmd.Timestamp
	if ts == 0 {
		ts = mctx.Timestamp().UnixMilli()
	}
	switch cmd.Scope.Kind {
	case "private":
		peer, err := ids.ParseParticipantID(cmd.Scope.Peer)
		if err != nil {
			return nil
		}
		if m.lastSeenPrivate == nil {
			m.lastSeenPrivate = make(map[ids.ParticipantID]int64)
		}
		m.lastSeenPrivate[peer] = ts
	case "group":
		if m.lastSeenGroup == nil {
			m.lastSeenGroup = make(map[string]int64)
		}
		m.lastSeenGroup[cmd.Scope.Group] = ts
	default:
		m.lastSeenGlobal = &ts
	}
	return nil
}

// flushLastSeen writes every local last-seen value accumulated this
// session to the store, once, as the last step before the participant is
// removed (spec.md §4.6).
func (m *Module) flushLastSeen(ctx context.Context, mctx module.Context) {
	room := mctx.Room()
	st := mctx.Store()
	pid := mctx.Participant()

	if m.lastSeenGlobal != nil {
		_ = st.ChatLastSeenGlobalSet(ctx, room, pid, *m.lastSeenGlobal)
	}
	for peer, ts := range m.lastSeenPrivate {
		_ = st.ChatLastSeenPrivateSet(ctx, room, pid, peer, ts)
	}
	for group, ts := range m.lastSeenGroup {
		_ = st.ChatLastSeenGroupSet(ctx, room, pid, group, ts)
	}
}

func containsGroup(groups []string, g string) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

// truncateAtRuneBoundary truncates s to at most max bytes without
// splitting a multi-byte rune (spec.md §4.6 "truncated at the last
// character boundary ≤ 4096").
func truncateAtRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s)[:max]
	for len(b) > 0 && !isRuneStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func publishToRoom(ctx context.Context, mctx module.Context, ev outgoing) error {
	return mctx.ExchangePublish(ctx, exchange.RoomKey(mctx.Room()), mustMarshal(ev))
}

func sendError(ctx context.Context, mctx module.Context, code apierr.Code) error {
	return mctx.WsSend(ctx, Namespace, mustMarshal(outgoing{Type: "error", Code: code}))
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
