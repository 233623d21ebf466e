package schedstore

import (
	"errors"
	"fmt"

	"carebridge/backend/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ConflictError is returned by store create calls when the booking was
// rejected because of clashes. It carries the store's conflict detail so the
// caller can route it into a resolution session.
type ConflictError struct {
	Conflicts []domain.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking rejected with %d conflict(s)", len(e.Conflicts))
}

// UpstreamError wraps a non-2xx collaborator response. Message is the
// upstream's own error text, passed through verbatim.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
}

// AsConflictError unwraps err into a *ConflictError if it is one.
func AsConflictError(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
