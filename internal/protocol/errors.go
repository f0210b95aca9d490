package protocol

import (
	"errors"
	"fmt"
)

// Call error codes the server attaches to failed requests.
const (
	CodeBadRequest       int64 = 4000
	CodePermissionDenied int64 = 4030
	CodeNotInRoom        int64 = 4040
	CodeAlreadyJoined    int64 = 4090
	CodeInternal         int64 = 5000
)

// Error is a signaling call failure with a machine-readable code.
// Callers branch on Code, never on message text.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("signal: %s (code %d)", e.Message, e.Code)
}

func IsCode(err error, code int64) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
