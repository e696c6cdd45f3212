package chat

import (
	"errors"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 50
	MaxTextLength     = 4000
	MaxReactionLength = 32
)

// Reference errors. The dispatcher never treats these as fatal.
var (
	ErrUnknownConnection = errors.New("connection has not joined")
	ErrUnknownPeer       = errors.New("peer is not connected")
	ErrUnknownMessage    = errors.New("message not found")
	ErrUnknownRoom       = errors.New("room does not exist")
)

// Validation errors.
var (
	ErrBadRequest      = errors.New("malformed request")
	ErrUnknownIntent   = errors.New("unknown intent type")
	ErrUsernameEmpty   = errors.New("username cannot be empty")
	ErrUsernameTooLong = errors.New("username exceeds maximum length")
	ErrUsernameInvalid = errors.New("username contains invalid characters")
	ErrUsernameTaken   = errors.New("username is already in use")
	ErrTextEmpty       = errors.New("message text cannot be empty")
	ErrTextTooLong     = errors.New("message text exceeds maximum length")
	ErrTextInvalid     = errors.New("message text contains invalid characters")
	ErrReactionEmpty   = errors.New("reaction cannot be empty")
	ErrReactionTooLong = errors.New("reaction exceeds maximum length")
)

// Rejection codes sent to clients in the rejected event.
const (
	CodeUnknownConnection = "unknown_connection"
	CodeUnknownPeer       = "unknown_peer"
	CodeUnknownMessage    = "unknown_message"
	CodeUnknownRoom       = "unknown_room"
	CodeUsernameTaken     = "username_taken"
	CodeInvalid           = "invalid"
	CodeBadRequest        = "bad_request"
)

// ErrorCode maps an error returned by Dispatch to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownConnection):
		return CodeUnknownConnection
	case errors.Is(err, ErrUnknownPeer):
		return CodeUnknownPeer
	case errors.Is(err, ErrUnknownMessage):
		return CodeUnknownMessage
	case errors.Is(err, ErrUnknownRoom):
		return CodeUnknownRoom
	case errors.Is(err, ErrUsernameTaken):
		return CodeUsernameTaken
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownIntent):
		return CodeBadRequest
	default:
		return CodeInvalid
	}
}

func ValidateUsername(username string) error {
	if username == "" {
		return ErrUsernameEmpty
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !utf8.ValidString(username) {
		return ErrUsernameInvalid
	}
	return nil
}

func ValidateText(text string) error {
	if text == "" {
		return ErrTextEmpty
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return ErrTextTooLong
	}
	if !utf8.ValidString(text) {
		return ErrTextInvalid
	}
	return nil
}

func ValidateReaction(symbol string) error {
	if symbol == "" {
		return ErrReactionEmpty
	}
	if utf8.RuneCountInString(symbol) > MaxReactionLength {
		return ErrReactionTooLong
	}
	return nil
}
