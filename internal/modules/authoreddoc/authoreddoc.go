// Package authoreddoc implements the shared engine behind spec.md §4.7's
// "authored document" pattern: a moderator promotes a subset of
// participants to authors, everyone else gets a read-only view, and an
// artifact can be produced on demand. Meeting-notes and whisper sub-rooms
// are both instances of this engine, configured with a Provisioner that
// knows how to mint the actual writer/reader session (a pad-service
// document session for meeting-notes, an SFU room token for whisper).
//
// Grounded on the teacher's session.ChatInfo-style "one store-backed state
// machine wrapped by a thin per-event dispatcher" shape
// (internal/v1/session/chat_helpers.go, session/admin_helpers.go), since
// the teacher has no direct analogue of a collaborative-document module.
package authoreddoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opentalk/controller/internal/apierr"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/store"
)

// ErrStorageExceeded is returned by an AssetStore when the room/tenant
// asset quota has been reached (spec.md §4.7 GeneratePdf -> StorageExceeded).
var ErrStorageExceeded = errors.New("authoreddoc: storage quota exceeded")

// SessionInfo is the per-participant session state the engine owns
// (spec.md §4.7 "Per-participant ... SessionInfo{author_id, group_id,
// session_id, readonly}").
type SessionInfo struct {
	AuthorID  string `json:"author_id"`
	GroupID   string `json:"group_id"`
	SessionID string `json:"session_id"`
	Readonly  bool   `json:"readonly"`
}

// Provisioner is the out-of-scope collaborator the engine drives: a
// pad-service client for meeting-notes, an SFU room/token minter for
// whisper. Only the narrow interface named in spec.md §4.7/§9 is part of
// this module; no concrete network client is implemented here.
type Provisioner interface {
	// CreateGroup provisions the shared artifact (a pad-service group, an
	// SFU room) once per room/namespace and returns an opaque handle.
	CreateGroup(ctx context.Context, room ids.SignalingRoomID) (groupHandle []byte, err error)
	// CreateSession provisions one participant's session against an
	// existing group and returns the session info to store plus the url
	// pushed to the client.
	CreateSession(ctx context.Context, room ids.SignalingRoomID, group []byte, p ids.ParticipantID, readonly bool) (SessionInfo, string, error)
	// TeardownSession releases a previously created session at the
	// provisioner, best-effort.
	TeardownSession(ctx context.Context, session SessionInfo) error
}

// PDFSource is implemented by provisioners that support GeneratePdf
// (meeting-notes only; whisper has no document to render).
type PDFSource interface {
	DownloadPDF(ctx context.Context, session SessionInfo) ([]byte, error)
}

// AssetStore persists a generated artifact (spec.md §4.7 GeneratePdf:
// "calls the asset store with (room_id, module_namespace, filename,
// bytes)"). Returns ErrStorageExceeded when the caller's quota is spent.
type AssetStore interface {
	SaveAsset(ctx context.Context, room ids.RoomID, namespace, filename string, data []byte) (ids.AssetID, error)
}

// Engine is the store-backed Absent->Initializing->Initialized state
// machine plus writer-selection/artifact operations shared by every
// authored-document module instance.
type Engine struct {
	Namespace   string
	Provisioner Provisioner
	Assets      AssetStore // nil if this instance never generates artifacts (whisper)
}

type selectCommand struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets,omitempty"`
}

// GenerateURL is published to a single participant's routing key whenever
// its writer/reader session needs to change (spec.md §4.7).
type GenerateURL struct {
	Type    string   `json:"type"`
	Writers []string `json:"writers"`
}

type pdfAsset struct {
	Type     string       `json:"type"`
	Filename string      `json:"filename"`
	AssetID  ids.AssetID `json:"asset_id"`
}

type errorEvent struct {
	Type string      `json:"type"`
	Code apierr.Code `json:"code"`
}

// SelectWriter implements spec.md §4.7 SelectWriter(selection).
func (e *Engine) SelectWriter(ctx context.Context, mctx module.Context, targets []ids.ParticipantID) error {
	if mctx.Role() != "moderator" {
		return e.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	room := mctx.Room()
	st := mctx.Store()

	if err := e.ensureAllPresent(ctx, mctx, targets); err != nil {
		return err
	}

	prevState, err := st.DocTryStartInit(ctx, room, e.Namespace)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	firstInit := prevState == store.DocAbsent
	if firstInit {
		group, err := e.Provisioner.CreateGroup(ctx, room)
		if err != nil {
			_ = st.DocInitDelete(ctx, room, e.Namespace)
			return e.sendError(ctx, mctx, apierr.CodeFailedInitialization)
		}
		if err := st.DocGroupSet(ctx, room, e.Namespace, group); err != nil {
			_ = st.DocInitDelete(ctx, room, e.Namespace)
			return e.sendError(ctx, mctx, apierr.CodeFailedInitialization)
		}
		if err := st.DocSetInitialized(ctx, room, e.Namespace); err != nil {
			_ = st.DocInitDelete(ctx, room, e.Namespace)
			return e.sendError(ctx, mctx, apierr.CodeFailedInitialization)
		}
	}

	for _, target := range targets {
		if err := mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(GenerateURL{
			Type: "generate_url", Writers: []string{target.String()},
		})); err != nil {
			return e.sendError(ctx, mctx, apierr.CodeInternal)
		}
	}

	if firstInit {
		writerStrings := make([]string, len(targets))
		for i, t := range targets {
			writerStrings[i] = t.String()
		}
		return mctx.ExchangePublish(ctx, exchange.RoomKey(room), mustMarshal(GenerateURL{Type: "generate_url", Writers: writerStrings}))
	}
	return nil
}

// DeselectWriter implements spec.md §4.7 DeselectWriter(selection).
func (e *Engine) DeselectWriter(ctx context.Context, mctx module.Context, targets []ids.ParticipantID) error {
	if mctx.Role() != "moderator" {
		return e.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	room := mctx.Room()
	state, err := mctx.Store().DocInitGet(ctx, room, e.Namespace)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if state != store.DocInitialized {
		return e.sendError(ctx, mctx, apierr.CodeNotInitialized)
	}

	for _, target := range targets {
		if err := mctx.ExchangePublish(ctx, exchange.ParticipantKey(target), mustMarshal(GenerateURL{
			Type: "generate_url", Writers: []string{},
		})); err != nil {
			return e.sendError(ctx, mctx, apierr.CodeInternal)
		}
	}
	return nil
}

// GeneratePdf implements spec.md §4.7 GeneratePdf. Only meaningful for
// modules configured with a PDFSource provisioner and an AssetStore.
func (e *Engine) GeneratePdf(ctx context.Context, mctx module.Context) error {
	if mctx.Role() != "moderator" {
		return e.sendError(ctx, mctx, apierr.CodeInsufficientPermissions)
	}
	src, ok := e.Provisioner.(PDFSource)
	if !ok || e.Assets == nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	room := mctx.Room()
	st := mctx.Store()

	state, err := st.DocInitGet(ctx, room, e.Namespace)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if state != store.DocInitialized {
		return e.sendError(ctx, mctx, apierr.CodeNotInitialized)
	}

	raw, ok2, err := st.DocSessionGet(ctx, room, e.Namespace, mctx.Participant())
	if err != nil || !ok2 {
		return e.sendError(ctx, mctx, apierr.CodeNotInitialized)
	}
	var session SessionInfo
	if err := json.Unmarshal(raw, &session); err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}

	data, err := src.DownloadPDF(ctx, session)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}

	filename := e.Namespace + ".pdf"
	assetID, err := e.Assets.SaveAsset(ctx, room.Room, e.Namespace, filename, data)
	if err != nil {
		if errors.Is(err, ErrStorageExceeded) {
			return e.sendError(ctx, mctx, apierr.CodeStorageExceeded)
		}
		// Save failure is fatal to this command only, not the session
		// (spec.md §4.7).
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}

	return mctx.ExchangePublish(ctx, exchange.RoomKey(room), mustMarshal(pdfAsset{Type: "pdf_asset", Filename: filename, AssetID: assetID}))
}

// OnGenerateURL handles a GenerateURL event addressed to this participant:
// tear down any existing session (storage + provisioner) and create a
// fresh one of the requested mode (spec.md §4.7 "On GenerateUrl receipt").
func (e *Engine) OnGenerateURL(ctx context.Context, mctx module.Context, writers []string) error {
	room := mctx.Room()
	st := mctx.Store()
	self := mctx.Participant()

	readonly := !containsString(writers, self.String())

	if raw, ok, err := st.DocSessionGet(ctx, room, e.Namespace, self); err == nil && ok {
		var old SessionInfo
		if json.Unmarshal(raw, &old) == nil {
			_ = e.Provisioner.TeardownSession(ctx, old)
		}
		_ = st.DocSessionDelete(ctx, room, e.Namespace, self)
	}

	group, ok, err := st.DocGroupGet(ctx, room, e.Namespace)
	if err != nil || !ok {
		return e.sendError(ctx, mctx, apierr.CodeNotInitialized)
	}

	session, url, err := e.Provisioner.CreateSession(ctx, room, group, self, readonly)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("authoreddoc: marshal session: %w", err)
	}
	if err := st.DocSessionSet(ctx, room, e.Namespace, self, data); err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}

	return mctx.WsSend(ctx, module.Namespace(e.Namespace), mustMarshal(map[string]any{
		"type": "session_url", "url": url, "readonly": readonly,
	}))
}

// Cleanup drops this namespace's document state; called from OnDestroy
// when the module's cleanup scope requires it (spec.md §4.7).
func (e *Engine) Cleanup(ctx context.Context, mctx module.Context) error {
	return mctx.Store().DocCleanup(ctx, mctx.Room(), e.Namespace)
}

func (e *Engine) ensureAllPresent(ctx context.Context, mctx module.Context, targets []ids.ParticipantID) error {
	ok, err := mctx.Store().ParticipantSetContainsAll(ctx, mctx.Room(), targets)
	if err != nil {
		return e.sendError(ctx, mctx, apierr.CodeInternal)
	}
	if !ok {
		return e.sendError(ctx, mctx, apierr.CodeInvalidParticipantTargets)
	}
	return nil
}

func (e *Engine) sendError(ctx context.Context, mctx module.Context, code apierr.Code) error {
	return mctx.WsSend(ctx, module.Namespace(e.Namespace), mustMarshal(errorEvent{Type: "error", Code: code}))
}

func containsString(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeSelection parses {"type":"select_writer"/"deselect_writer",
// "targets":[...]} commands shared by every authored-document module.
func DecodeSelection(raw json.RawMessage) (targets []ids.ParticipantID, err error) {
	var cmd selectCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("authoreddoc: decode selection: %w", err)
	}
	targets = make([]ids.ParticipantID, 0, len(cmd.Targets))
	for _, t := range cmd.Targets {
		pid, err := ids.ParseParticipantID(t)
		if err != nil {
			return nil, fmt.Errorf("authoreddoc: invalid target %q: %w", t, err)
		}
		targets = append(targets, pid)
	}
	return targets, nil
}

func CommandType(raw json.RawMessage) (string, error) {
	var cmd selectCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return "", fmt.Errorf("authoreddoc: decode command: %w", err)
	}
	return cmd.Type, nil
}
