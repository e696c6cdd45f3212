package audit

import (
	"github.com/rs/zerolog"

	"github.com/pelusa-v/pelusa-broker/internal/log"
)

// Audit actions emitted by the broker.
const (
	ActionJoin           = "broker.join"
	ActionChangeRoom     = "broker.change_room"
	ActionSendMessage    = "broker.send_message"
	ActionPrivateMessage = "broker.private_message"
	ActionReact          = "broker.react"
	ActionMarkRead       = "broker.mark_read"
	ActionDisconnect     = "broker.disconnect"
	ActionRejected       = "broker.rejected"
)

const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit entry.
func Log(l zerolog.Logger, action, connID, username, msg string) {
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldUsername, username).
		Msg(msg)
}

// LogWithDetail is Log with an extra detail field.
func LogWithDetail(l zerolog.Logger, action, connID, username, detail, msg string) {
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldUsername, username).
		Str(FieldDetail, detail).
		Msg(msg)
}
