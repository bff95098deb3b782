// Package memory provides an in-process implementation of store.Store,
// for single-node deployments and tests. It follows the teacher's Room
// locking strategy (internal/v1/session/room.go): a single sync.RWMutex
// guards every map, acquired once per public method rather than per
// field access.
package memory

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/store"
)

type skipEntry struct {
	value  bool
	expiry time.Time
}

// Store is an in-memory, process-local implementation of store.Store.
// Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	participants map[ids.SignalingRoomID]set.Set[ids.ParticipantID]
	attributes   map[ids.SignalingRoomID]map[store.AttributeID]map[ids.ParticipantID][]byte

	tariff  map[ids.RoomID][]byte
	event   map[ids.RoomID][]byte
	creator map[ids.RoomID][]byte

	participantCount map[ids.RoomID]int64
	closesAt         map[ids.SignalingRoomID]time.Time
	alive            map[ids.RoomID]bool

	skipWaitingRoom map[ids.ParticipantID]skipEntry

	chatHistory       map[ids.SignalingRoomID]map[store.ChatScope][][]byte
	chatCorrespondents map[ids.SignalingRoomID]map[ids.ParticipantID]map[ids.ParticipantID]struct{}
	chatEnabled       map[ids.SignalingRoomID]bool
	chatLastSeen      map[ids.SignalingRoomID]map[ids.ParticipantID]int64
	chatGroupMembers  map[ids.SignalingRoomID]map[string]int64

	whisperGroups map[ids.SignalingRoomID]map[ids.WhisperID]map[ids.ParticipantID]store.WhisperState

	docInit    map[ids.SignalingRoomID]map[string]store.DocInitState
	docGroup   map[ids.SignalingRoomID]map[string][]byte
	docSession map[ids.SignalingRoomID]map[string]map[ids.ParticipantID][]byte

	bans              map[ids.RoomID]map[ids.UserID]struct{}
	waitingRoom       map[ids.RoomID]map[ids.ParticipantID]struct{}
	waitingAccepted   map[ids.RoomID]map[ids.ParticipantID]struct{}
	raiseHandsEnabled map[ids.RoomID]bool
	waitingRoomEnabled map[ids.RoomID]bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		participants:       make(map[ids.SignalingRoomID]set.Set[ids.ParticipantID]),
		attributes:         make(map[ids.SignalingRoomID]map[store.AttributeID]map[ids.ParticipantID][]byte),
		tariff:             make(map[ids.RoomID][]byte),
		event:              make(map[ids.RoomID][]byte),
		creator:            make(map[ids.RoomID][]byte),
		participantCount:   make(map[ids.RoomID]int64),
		closesAt:           make(map[ids.SignalingRoomID]time.Time),
		alive:              make(map[ids.RoomID]bool),
		skipWaitingRoom:    make(map[ids.ParticipantID]skipEntry),
		chatHistory:        make(map[ids.SignalingRoomID]map[store.ChatScope][][]byte),
		chatCorrespondents: make(map[ids.SignalingRoomID]map[ids.ParticipantID]map[ids.ParticipantID]struct{}),
		chatEnabled:        make(map[ids.SignalingRoomID]bool),
		chatLastSeen:       make(map[ids.SignalingRoomID]map[ids.ParticipantID]int64),
		chatGroupMembers:   make(map[ids.SignalingRoomID]map[string]int64),
		whisperGroups:      make(map[ids.SignalingRoomID]map[ids.WhisperID]map[ids.ParticipantID]store.WhisperState),
		docInit:            make(map[ids.SignalingRoomID]map[string]store.DocInitState),
		docGroup:           make(map[ids.SignalingRoomID]map[string][]byte),
		docSession:         make(map[ids.SignalingRoomID]map[string]map[ids.ParticipantID][]byte),
		bans:               make(map[ids.RoomID]map[ids.UserID]struct{}),
		waitingRoom:        make(map[ids.RoomID]map[ids.ParticipantID]struct{}),
		waitingAccepted:    make(map[ids.RoomID]map[ids.ParticipantID]struct{}),
		raiseHandsEnabled:  make(map[ids.RoomID]bool),
		waitingRoomEnabled: make(map[ids.RoomID]bool),
	}
}

var _ store.Store = (*Store)(nil)

// --- ParticipantSet ---

func (s *Store) ParticipantSetExists(_ context.Context, room ids.SignalingRoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.participants[room]
	return ok && m.Len() > 0, nil
}

func (s *Store) ParticipantSetContains(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[room].Has(p), nil
}

func (s *Store) ParticipantSetContainsAll(_ context.Context, room ids.SignalingRoomID, ps []ids.ParticipantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[room].HasAll(ps...), nil
}

func (s *Store) ParticipantSetMembers(_ context.Context, room ids.SignalingRoomID) ([]ids.ParticipantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[room].UnsortedList(), nil
}

func (s *Store) ParticipantSetAdd(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.participants[room]
	if !ok {
		m = set.New[ids.ParticipantID]()
		s.participants[room] = m
	}
	if m.Has(p) {
		return false, nil
	}
	m.Insert(p)
	return true, nil
}

func (s *Store) ParticipantSetRemove(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[room].Delete(p)
	return nil
}

func (s *Store) ParticipantSetDrop(_ context.Context, room ids.SignalingRoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, room)
	return nil
}

// --- Attributes ---

func (s *Store) AttributeGet(_ context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attributes[room][attr][p]
	return v, ok, nil
}

func (s *Store) AttributeGetMany(_ context.Context, room ids.SignalingRoomID, attr store.AttributeID, ps []ids.ParticipantID) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(ps))
	m := s.attributes[room][attr]
	for i, p := range ps {
		out[i] = m[p]
	}
	return out, nil
}

func (s *Store) AttributeSet(_ context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAttributeLocked(room, attr, p, value)
	return nil
}

func (s *Store) setAttributeLocked(room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID, value []byte) {
	byAttr, ok := s.attributes[room]
	if !ok {
		byAttr = make(map[store.AttributeID]map[ids.ParticipantID][]byte)
		s.attributes[room] = byAttr
	}
	byParticipant, ok := byAttr[attr]
	if !ok {
		byParticipant = make(map[ids.ParticipantID][]byte)
		byAttr[attr] = byParticipant
	}
	byParticipant[p] = value
}

func (s *Store) AttributeRemove(_ context.Context, room ids.SignalingRoomID, attr store.AttributeID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attributes[room][attr], p)
	return nil
}

func (s *Store) AttributeDrop(_ context.Context, room ids.SignalingRoomID, attr store.AttributeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attributes[room], attr)
	return nil
}

// AttributeActions applies a batch of actions for one participant under a
// single lock acquisition, so Set/Del calls within the batch are never
// interleaved with a concurrent action list for the same participant
// (spec.md testable property 8).
func (s *Store) AttributeActions(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID, actions []store.Action) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results [][]byte
	for _, a := range actions {
		switch a.Kind {
		case store.ActionGet:
			results = append(results, s.attributes[room][a.Attr][p])
		case store.ActionSet:
			s.setAttributeLocked(room, a.Attr, p, a.Value)
		case store.ActionDel:
			delete(s.attributes[room][a.Attr], p)
		}
	}
	return results, nil
}

// --- Tariff / Event / Creator ---

func (s *Store) TariffTryInit(_ context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tariff[room]; ok {
		return cur, nil
	}
	s.tariff[room] = value
	return value, nil
}
func (s *Store) TariffGet(_ context.Context, room ids.RoomID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tariff[room]
	return v, ok, nil
}
func (s *Store) TariffDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tariff, room)
	return nil
}

func (s *Store) EventTryInit(_ context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.event[room]; ok {
		return cur, nil
	}
	s.event[room] = value
	return value, nil
}
func (s *Store) EventGet(_ context.Context, room ids.RoomID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.event[room]
	return v, ok, nil
}
func (s *Store) EventDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.event, room)
	return nil
}

func (s *Store) CreatorTryInit(_ context.Context, room ids.RoomID, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.creator[room]; ok {
		return cur, nil
	}
	s.creator[room] = value
	return value, nil
}
func (s *Store) CreatorGet(_ context.Context, room ids.RoomID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creator[room]
	return v, ok, nil
}
func (s *Store) CreatorDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creator, room)
	return nil
}

// --- ParticipantCounter ---

func (s *Store) ParticipantCounterIncr(_ context.Context, room ids.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participantCount[room]++
	return s.participantCount[room], nil
}
func (s *Store) ParticipantCounterDecr(_ context.Context, room ids.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participantCount[room]--
	return s.participantCount[room], nil
}
func (s *Store) ParticipantCounterGet(_ context.Context, room ids.RoomID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantCount[room], nil
}
func (s *Store) ParticipantCounterDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participantCount, room)
	return nil
}

// --- ClosesAt ---

func (s *Store) ClosesAtSet(_ context.Context, room ids.SignalingRoomID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closesAt[room] = at
	return nil
}
func (s *Store) ClosesAtGet(_ context.Context, room ids.SignalingRoomID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.closesAt[room]
	return v, ok, nil
}
func (s *Store) ClosesAtRemove(_ context.Context, room ids.SignalingRoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closesAt, room)
	return nil
}

// --- SkipWaitingRoom ---

func (s *Store) SkipWaitingRoomSetWithExpiry(_ context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipWaitingRoom[p] = skipEntry{value: v, expiry: time.Now().Add(ttl)}
	return nil
}

func (s *Store) SkipWaitingRoomSetWithExpiryIfAbsent(_ context.Context, p ids.ParticipantID, v bool, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.skipWaitingRoom[p]; ok && e.expiry.After(time.Now()) {
		return nil
	}
	s.skipWaitingRoom[p] = skipEntry{value: v, expiry: time.Now().Add(ttl)}
	return nil
}

func (s *Store) SkipWaitingRoomRefreshExpiry(_ context.Context, p ids.ParticipantID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.skipWaitingRoom[p]
	if !ok {
		return nil
	}
	e.expiry = time.Now().Add(ttl)
	s.skipWaitingRoom[p] = e
	return nil
}

func (s *Store) SkipWaitingRoomGet(_ context.Context, p ids.ParticipantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.skipWaitingRoom[p]
	if !ok || e.expiry.Before(time.Now()) {
		return false, nil
	}
	return e.value, nil
}

// --- Chat ---

func (s *Store) ChatHistoryPush(_ context.Context, room ids.SignalingRoomID, scope store.ChatScope, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chatHistory[room]
	if !ok {
		m = make(map[store.ChatScope][][]byte)
		s.chatHistory[room] = m
	}
	m[scope] = append(m[scope], message)
	return nil
}

func (s *Store) ChatHistoryGet(_ context.Context, room ids.SignalingRoomID, scope store.ChatScope) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]byte(nil), s.chatHistory[room][scope]...), nil
}

func (s *Store) ChatHistoryDelete(_ context.Context, room ids.SignalingRoomID, scope store.ChatScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chatHistory[room], scope)
	return nil
}

func (s *Store) ChatCorrespondentsAdd(_ context.Context, room ids.SignalingRoomID, pair [2]ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chatCorrespondents[room]
	if !ok {
		m = make(map[ids.ParticipantID]map[ids.ParticipantID]struct{})
		s.chatCorrespondents[room] = m
	}
	for _, p := range []ids.ParticipantID{pair[0], pair[1]} {
		if m[p] == nil {
			m[p] = make(map[ids.ParticipantID]struct{})
		}
	}
	m[pair[0]][pair[1]] = struct{}{}
	m[pair[1]][pair[0]] = struct{}{}
	return nil
}

func (s *Store) ChatCorrespondents(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) ([]ids.ParticipantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ParticipantID, 0, len(s.chatCorrespondents[room][p]))
	for peer := range s.chatCorrespondents[room][p] {
		out = append(out, peer)
	}
	return out, nil
}

func (s *Store) ChatCorrespondentsDelete(_ context.Context, room ids.SignalingRoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chatCorrespondents, room)
	return nil
}

func (s *Store) ChatEnabledGet(_ context.Context, room ids.SignalingRoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.chatEnabled[room]
	if !ok {
		return true, nil
	}
	return v, nil
}
func (s *Store) ChatEnabledSet(_ context.Context, room ids.SignalingRoomID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatEnabled[room] = enabled
	return nil
}
func (s *Store) ChatEnabledDelete(_ context.Context, room ids.SignalingRoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chatEnabled, room)
	return nil
}

func (s *Store) ChatLastSeenGlobalSet(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID, tsMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chatLastSeen[room]
	if !ok {
		m = make(map[ids.ParticipantID]int64)
		s.chatLastSeen[room] = m
	}
	m[p] = tsMillis
	return nil
}

func (s *Store) ChatLastSeenGlobalGet(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.chatLastSeen[room][p]
	return v, ok, nil
}

// ChatLastSeenPrivateSet and ChatLastSeenGroupSet reuse the global last-seen
// map in this backend: the in-memory store is intended for single-process
// deployments and tests where per-scope granularity is not exercised by the
// room lifecycle controller's cleanup decisions.
func (s *Store) ChatLastSeenPrivateSet(ctx context.Context, room ids.SignalingRoomID, p, _ ids.ParticipantID, tsMillis int64) error {
	return s.ChatLastSeenGlobalSet(ctx, room, p, tsMillis)
}
func (s *Store) ChatLastSeenGroupSet(ctx context.Context, room ids.SignalingRoomID, p ids.ParticipantID, _ string, tsMillis int64) error {
	return s.ChatLastSeenGlobalSet(ctx, room, p, tsMillis)
}

func (s *Store) ChatLastSeenDeleteAll(_ context.Context, room ids.SignalingRoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chatLastSeen[room], p)
	return nil
}

func (s *Store) ChatGroupMembershipIncr(_ context.Context, room ids.SignalingRoomID, group string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chatGroupMembers[room]
	if !ok {
		m = make(map[string]int64)
		s.chatGroupMembers[room] = m
	}
	m[group]++
	return m[group], nil
}

func (s *Store) ChatGroupMembershipDecr(_ context.Context, room ids.SignalingRoomID, group string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.chatGroupMembers[room]
	if m == nil {
		return 0, nil
	}
	m[group]--
	v := m[group]
	if v <= 0 {
		delete(m, group)
	}
	return v, nil
}

// --- Whisper ---

func (s *Store) whisperRoomLocked(room ids.SignalingRoomID) map[ids.WhisperID]map[ids.ParticipantID]store.WhisperState {
	m, ok := s.whisperGroups[room]
	if !ok {
		m = make(map[ids.WhisperID]map[ids.ParticipantID]store.WhisperState)
		s.whisperGroups[room] = m
	}
	return m
}

func (s *Store) WhisperCreate(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]store.WhisperState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := make(map[ids.ParticipantID]store.WhisperState, len(members))
	for p, st := range members {
		group[p] = st
	}
	s.whisperRoomLocked(room)[w] = group
	return nil
}

func (s *Store) WhisperAddParticipants(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID, members map[ids.ParticipantID]store.WhisperState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := s.whisperRoomLocked(room)
	group, ok := rooms[w]
	if !ok {
		group = make(map[ids.ParticipantID]store.WhisperState)
		rooms[w] = group
	}
	for p, st := range members {
		group[p] = st
	}
	return nil
}

func (s *Store) WhisperSetState(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID, state store.WhisperState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group, ok := s.whisperRoomLocked(room)[w]; ok {
		group[p] = state
	}
	return nil
}

func (s *Store) WhisperRemove(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID, p ids.ParticipantID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.whisperRoomLocked(room)[w]
	if !ok {
		return true, nil
	}
	delete(group, p)
	return len(group) == 0, nil
}

func (s *Store) WhisperGet(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID) (map[ids.ParticipantID]store.WhisperState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group := s.whisperGroups[room][w]
	out := make(map[ids.ParticipantID]store.WhisperState, len(group))
	for p, st := range group {
		out[p] = st
	}
	return out, nil
}

func (s *Store) WhisperIDs(_ context.Context, room ids.SignalingRoomID) ([]ids.WhisperID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.WhisperID, 0, len(s.whisperGroups[room]))
	for w := range s.whisperGroups[room] {
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) WhisperDelete(_ context.Context, room ids.SignalingRoomID, w ids.WhisperID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whisperGroups[room], w)
	return nil
}

// --- AuthoredDoc ---

func (s *Store) DocTryStartInit(_ context.Context, room ids.SignalingRoomID, namespace string) (store.DocInitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docInit[room]
	if !ok {
		m = make(map[string]store.DocInitState)
		s.docInit[room] = m
	}
	prev := m[namespace]
	if prev == store.DocAbsent {
		m[namespace] = store.DocInitializing
	}
	return prev, nil
}

func (s *Store) DocSetInitialized(_ context.Context, room ids.SignalingRoomID, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.docInit[room]; ok {
		m[namespace] = store.DocInitialized
	}
	return nil
}

func (s *Store) DocInitDelete(_ context.Context, room ids.SignalingRoomID, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docInit[room], namespace)
	return nil
}

func (s *Store) DocInitGet(_ context.Context, room ids.SignalingRoomID, namespace string) (store.DocInitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docInit[room][namespace], nil
}

func (s *Store) DocGroupSet(_ context.Context, room ids.SignalingRoomID, namespace string, groupHandle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docGroup[room]
	if !ok {
		m = make(map[string][]byte)
		s.docGroup[room] = m
	}
	m[namespace] = groupHandle
	return nil
}

func (s *Store) DocGroupGet(_ context.Context, room ids.SignalingRoomID, namespace string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.docGroup[room][namespace]
	return v, ok, nil
}

func (s *Store) DocSessionSet(_ context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID, session []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNS, ok := s.docSession[room]
	if !ok {
		byNS = make(map[string]map[ids.ParticipantID][]byte)
		s.docSession[room] = byNS
	}
	byP, ok := byNS[namespace]
	if !ok {
		byP = make(map[ids.ParticipantID][]byte)
		byNS[namespace] = byP
	}
	byP[p] = session
	return nil
}

func (s *Store) DocSessionGet(_ context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.docSession[room][namespace][p]
	return v, ok, nil
}

func (s *Store) DocSessionDelete(_ context.Context, room ids.SignalingRoomID, namespace string, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docSession[room][namespace], p)
	return nil
}

func (s *Store) DocCleanup(_ context.Context, room ids.SignalingRoomID, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docInit[room], namespace)
	delete(s.docGroup[room], namespace)
	delete(s.docSession[room], namespace)
	return nil
}

// --- Moderation ---

func (s *Store) IsUserBanned(_ context.Context, room ids.RoomID, u ids.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bans[room][u]
	return ok, nil
}

func (s *Store) BanUser(_ context.Context, room ids.RoomID, u ids.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bans[room]
	if !ok {
		m = make(map[ids.UserID]struct{})
		s.bans[room] = m
	}
	m[u] = struct{}{}
	return nil
}

func (s *Store) DeleteBans(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, room)
	return nil
}

func (s *Store) WaitingRoomAll(_ context.Context, room ids.RoomID) ([]ids.ParticipantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ParticipantID, 0, len(s.waitingRoom[room]))
	for p := range s.waitingRoom[room] {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) WaitingRoomContains(_ context.Context, room ids.RoomID, p ids.ParticipantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.waitingRoom[room][p]
	return ok, nil
}

func (s *Store) WaitingRoomAdd(_ context.Context, room ids.RoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.waitingRoom[room]
	if !ok {
		m = make(map[ids.ParticipantID]struct{})
		s.waitingRoom[room] = m
	}
	m[p] = struct{}{}
	return nil
}

func (s *Store) WaitingRoomRemove(_ context.Context, room ids.RoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitingRoom[room], p)
	return nil
}

func (s *Store) DeleteWaitingRoom(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitingRoom, room)
	return nil
}

func (s *Store) WaitingRoomAcceptedAdd(_ context.Context, room ids.RoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.waitingAccepted[room]
	if !ok {
		m = make(map[ids.ParticipantID]struct{})
		s.waitingAccepted[room] = m
	}
	m[p] = struct{}{}
	return nil
}

func (s *Store) WaitingRoomAcceptedRemove(_ context.Context, room ids.RoomID, p ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitingAccepted[room], p)
	return nil
}

func (s *Store) WaitingRoomAcceptedRemoveList(_ context.Context, room ids.RoomID, ps []ids.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		delete(s.waitingAccepted[room], p)
	}
	return nil
}

func (s *Store) WaitingRoomAcceptedAll(_ context.Context, room ids.RoomID) ([]ids.ParticipantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ParticipantID, 0, len(s.waitingAccepted[room]))
	for p := range s.waitingAccepted[room] {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) DeleteWaitingRoomAccepted(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitingAccepted, room)
	return nil
}

func (s *Store) RaiseHandsEnabledGet(_ context.Context, room ids.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.raiseHandsEnabled[room]
	if !ok {
		return true, nil
	}
	return v, nil
}
func (s *Store) RaiseHandsEnabledSet(_ context.Context, room ids.RoomID, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiseHandsEnabled[room] = v
	return nil
}
func (s *Store) RaiseHandsEnabledDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raiseHandsEnabled, room)
	return nil
}

func (s *Store) WaitingRoomEnabledGet(_ context.Context, room ids.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitingRoomEnabled[room], nil
}
func (s *Store) WaitingRoomEnabledSet(_ context.Context, room ids.RoomID, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingRoomEnabled[room] = v
	return nil
}
func (s *Store) WaitingRoomEnabledDelete(_ context.Context, room ids.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitingRoomEnabled, room)
	return nil
}

// --- Alive ---

func (s *Store) AliveSet(_ context.Context, room ids.RoomID, alive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[room] = alive
	return nil
}

func (s *Store) AliveGet(_ context.Context, room ids.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive[room], nil
}
