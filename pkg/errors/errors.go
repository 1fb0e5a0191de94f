package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons surfaced by the communications agent. Only caller misuse and
// terminal workflow failures cross the HTTP boundary; soft failures are
// absorbed by the business layer.
const (
	ReasonInvalidConversation = "INVALID_CONVERSATION"
	ReasonConversationClosed  = "CONVERSATION_NOT_ACTIVE"
	ReasonAgentTypeMismatch   = "AGENT_TYPE_MISMATCH"
	ReasonMissingField        = "MISSING_REQUIRED_FIELD"
	ReasonBackendUnavailable  = "BACKEND_UNAVAILABLE"
	ReasonWorkflowFailed      = "WORKFLOW_FAILED"
)

// Common errors
var (
	ErrBadRequest         = errors.BadRequest("BAD_REQUEST", "Bad request")
	ErrUnauthorized       = errors.Unauthorized("UNAUTHORIZED", "Unauthorized")
	ErrNotFound           = errors.NotFound("NOT_FOUND", "Resource not found")
	ErrServiceUnavailable = errors.ServiceUnavailable(ReasonBackendUnavailable, "Backend service unavailable")
)

// NewInvalidConversation reports a conversation id the caller supplied that
// does not exist.
func NewInvalidConversation(message string) *errors.Error {
	return errors.NotFound(ReasonInvalidConversation, message)
}

// NewConversationClosed reports a conversation that is no longer ACTIVE.
func NewConversationClosed(message string) *errors.Error {
	return errors.BadRequest(ReasonConversationClosed, message)
}

// NewAgentTypeMismatch reports a conversation owned by a different agent type.
func NewAgentTypeMismatch(message string) *errors.Error {
	return errors.BadRequest(ReasonAgentTypeMismatch, message)
}

// NewMissingField reports a required field absent from a request or tool input.
func NewMissingField(message string) *errors.Error {
	return errors.BadRequest(ReasonMissingField, message)
}

// NewWorkflowFailed reports a terminal workflow failure.
func NewWorkflowFailed(message string) *errors.Error {
	return errors.InternalServer(ReasonWorkflowFailed, message)
}

// IsCallerMisuse reports whether err should surface as a 4xx to the caller.
func IsCallerMisuse(err error) bool {
	if e := errors.FromError(err); e != nil {
		return e.Code >= 400 && e.Code < 500
	}
	return false
}
