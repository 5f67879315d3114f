package order

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the order manager. The HTTP layer maps them
// straight onto response statuses.
const (
	CodeInvalidSignal  = "INVALID_SIGNAL"
	CodeRiskRejected   = "RISK_REJECTED"
	CodeFraudBlocked   = "FRAUD_BLOCKED"
	CodeMFARequired    = "MFA_REQUIRED"
	CodeBrokerFailure  = "BROKER_FAILURE"
	CodeStaleOrder     = "STALE_ORDER"
	CodeNotFound       = "ORDER_NOT_FOUND"
	CodeNotModifiable  = "ORDER_NOT_MODIFIABLE"
	CodeNotCancellable = "ORDER_NOT_CANCELLABLE"
)

var statusByCode = map[string]int{
	CodeInvalidSignal:  http.StatusBadRequest,
	CodeRiskRejected:   http.StatusUnprocessableEntity,
	CodeFraudBlocked:   http.StatusForbidden,
	CodeMFARequired:    http.StatusForbidden,
	CodeBrokerFailure:  http.StatusBadGateway,
	CodeStaleOrder:     http.StatusConflict,
	CodeNotFound:       http.StatusNotFound,
	CodeNotModifiable:  http.StatusConflict,
	CodeNotCancellable: http.StatusConflict,
}

// Error carries a machine-readable code alongside the message. cause is
// preserved for logs but never serialized to clients.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the response status for the error code.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// IsCode reports whether err is an order Error with the given code.
func IsCode(err error, code string) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}
