// Package apierr defines the closed set of error codes visible to
// clients, shared by the HTTP handoff responses and module error events.
// Kept as typed string constants rather than raw strings, matching the
// teacher's preference for typed enums (session.RoleType, session.Event).
package apierr

// Code is a stable, client-facing error identifier.
type Code string

const (
	// Authentication / authorization
	CodeInsufficientPermissions Code = "insufficient_permissions"
	CodeBannedFromRoom          Code = "banned_from_room"
	CodeWrongRoomPassword       Code = "wrong_room_password"

	// Ticket / upgrade
	CodeMissingProtocol Code = "missing_protocol"
	CodeInvalidProtocol Code = "invalid_protocol"
	CodeMissingTicket   Code = "missing_ticket"
	CodeInvalidTicket   Code = "invalid_ticket"
	CodeTooManyConnections Code = "too_many_connections"

	// Command validation
	CodeInvalidSelection                 Code = "invalid_selection"
	CodeInvalidParticipantTargets         Code = "invalid_participant_targets"
	CodeInvalidDisplayName                Code = "invalid_display_name"
	CodeCannotChangeNameOfRegisteredUsers Code = "cannot_change_name_of_registered_users"
	CodeCannotBanGuest                    Code = "cannot_ban_guest"
	CodeCannotSendRoomOwnerToWaitingRoom  Code = "cannot_send_room_owner_to_waiting_room"
	CodeEmptyParticipantList              Code = "empty_participant_list"
	CodeAlreadyAccepted                   Code = "already_accepted"
	CodeNotInvited                        Code = "not_invited"

	// Room/breakout validation (HTTP handoff)
	CodeNoBreakoutRooms      Code = "no_breakout_rooms"
	CodeInvalidBreakoutRoomID Code = "invalid_breakout_room_id"

	// Feature state
	CodeChatDisabled          Code = "chat_disabled"
	CodeCurrentlyInitializing Code = "currently_initializing"
	CodeNotInitialized        Code = "not_initialized"
	CodeStorageExceeded       Code = "storage_exceeded"
	CodeLivekitUnavailable    Code = "livekit_unavailable"
	CodeFailedInitialization  Code = "failed_initialization"

	// Catch-all for unexpected storage/internal failures surfaced to a
	// single command without terminating the session (spec.md §7).
	CodeInternal Code = "internal"
)

// Error is the payload shape of a control-level or per-module error event:
// {"namespace": "...", "payload": {"code": "...", "message": "..."}}.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

// New builds an *Error for the given code with an optional detail message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
