package protocol

import "errors"

type ErrorKind string

const (
	KindInvalidMessage     ErrorKind = "invalid_message"
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindAlreadyAuthorized  ErrorKind = "already_authorized"
	KindInvalidAuth        ErrorKind = "invalid_auth"
	KindAuthTokenExpired   ErrorKind = "auth_token_expired"
	KindUserNotFound       ErrorKind = "user_not_found"
	KindWhiteboardNotFound ErrorKind = "whiteboard_not_found"
	KindCanvasNotFound     ErrorKind = "canvas_not_found"
	KindActionForbidden    ErrorKind = "action_forbidden"
	KindOther              ErrorKind = "other"
)

// ClientError is an error safe to show to a client. Message never carries
// internal detail.
type ClientError struct {
	Kind    ErrorKind
	Action  string
	Message string
}

func (e *ClientError) Error() string {
	if e.Action != "" {
		return string(e.Kind) + " (" + e.Action + "): " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func NewClientError(kind ErrorKind, message string) *ClientError {
	return &ClientError{Kind: kind, Message: message}
}

func Forbidden(action string) *ClientError {
	return &ClientError{Kind: KindActionForbidden, Action: action, Message: "insufficient permission for " + action}
}

// AsClientError returns the ClientError in err's chain, or a generic Other.
func AsClientError(err error) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, ErrInvalidMessage) {
		return NewClientError(KindInvalidMessage, "message could not be parsed")
	}
	return NewClientError(KindOther, "internal error")
}

// Individual builds the per-connection error message for ce.
func (e *ClientError) Individual(clientId string) IndividualError {
	return IndividualError{
		ClientId: clientId,
		Kind:     e.Kind,
		Action:   e.Action,
		Message:  e.Message,
	}
}
