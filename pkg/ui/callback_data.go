package ui

import (
	"errors"
	"strings"
)

// Button tokens travel through chat platforms as opaque callback data and
// come back when the user taps the button.
const (
	TokenPrefix        = "reminder:"
	MaxCallbackDataLen = 64
)

type TokenKind string

const (
	KindComplete TokenKind = "complete"
	KindDelete   TokenKind = "delete"
	KindSnooze   TokenKind = "snooze"
)

type Token struct {
	Kind       TokenKind
	ReminderID string
	AlertID    string
}

var (
	errInvalidPrefix       = errors.New("invalid token prefix")
	errInvalidKind         = errors.New("invalid token kind")
	errInvalidID           = errors.New("invalid id in token")
	errCallbackDataTooLong = errors.New("callback data too long")
)

func BuildCompleteToken(reminderID string) (string, error) {
	return buildReminderToken(KindComplete, reminderID)
}

func BuildDeleteToken(reminderID string) (string, error) {
	return buildReminderToken(KindDelete, reminderID)
}

func BuildSnoozeToken(reminderID, alertID string) (string, error) {
	if !isTokenID(reminderID) || !isTokenID(alertID) {
		return "", errInvalidID
	}
	data := TokenPrefix + string(KindSnooze) + ":" + reminderID + ":" + alertID
	return validateCallbackData(data)
}

func (t Token) String() string {
	data := TokenPrefix + string(t.Kind) + ":" + t.ReminderID
	if t.Kind == KindSnooze {
		data += ":" + t.AlertID
	}
	return data
}

func ParseToken(data string) (Token, error) {
	if data == "" {
		return Token{}, errInvalidKind
	}
	if len(data) > MaxCallbackDataLen {
		return Token{}, errCallbackDataTooLong
	}
	if !strings.HasPrefix(data, TokenPrefix) {
		return Token{}, errInvalidPrefix
	}

	parts := strings.Split(strings.TrimPrefix(data, TokenPrefix), ":")
	switch TokenKind(parts[0]) {
	case KindComplete, KindDelete:
		if len(parts) != 2 {
			return Token{}, errInvalidKind
		}
		if !isTokenID(parts[1]) {
			return Token{}, errInvalidID
		}
		return Token{Kind: TokenKind(parts[0]), ReminderID: parts[1]}, nil
	case KindSnooze:
		if len(parts) != 3 {
			return Token{}, errInvalidKind
		}
		if !isTokenID(parts[1]) || !isTokenID(parts[2]) {
			return Token{}, errInvalidID
		}
		return Token{Kind: KindSnooze, ReminderID: parts[1], AlertID: parts[2]}, nil
	default:
		return Token{}, errInvalidKind
	}
}

// IsToken reports whether data looks like one of our button tokens, so
// callback handlers can leave foreign callback data alone.
func IsToken(data string) bool {
	return strings.HasPrefix(data, TokenPrefix)
}

func buildReminderToken(kind TokenKind, reminderID string) (string, error) {
	if !isTokenID(reminderID) {
		return "", errInvalidID
	}
	return validateCallbackData(TokenPrefix + string(kind) + ":" + reminderID)
}

func validateCallbackData(data string) (string, error) {
	if len(data) > MaxCallbackDataLen {
		return "", errCallbackDataTooLong
	}
	return data, nil
}

// isTokenID accepts the URL-safe base64 alphabet used for ids; anything with
// a colon would break token parsing.
func isTokenID(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
