// Package reason carries the ACK failure/success vocabulary shared by the
// room engine and the gateway, so neither has to import the other just to
// agree on a string.
package reason

// Reason is the "reason" field of a failed (or, for Authenticated,
// successful) ACK.
type Reason string

const (
	// input — frame decode/validate failures.
	MissingRequiredFields Reason = "missing_required_fields"
	InvalidMessage        Reason = "invalid_message"
	MissingParams         Reason = "missing_params"
	UnknownMessageType    Reason = "unknown_message_type"
	UnknownSubtype        Reason = "unknown_subtype"

	// auth — auth flow / session mismatch failures.
	RoomNotFound   Reason = "room_not_found"
	RoomNotActive  Reason = "room_not_active"
	JoinFailed     Reason = "join_failed"
	InvalidSession Reason = "invalid_session"

	// permission.
	NotAuthorized Reason = "not_authorized"

	// state — bounds errors, no current track, duplicate room, bad index.
	ActionFailed Reason = "action_failed"

	// transient — unexpected fault during dispatch.
	ProcessingError Reason = "processing_error"

	// success reasons echoed on ACKs that need one.
	Authenticated Reason = "authenticated"
)
