package tableau

import (
	"errors"
	"fmt"
)

// codeAlreadyAbsent is the fault code for deleting an entity the server has
// already removed. Stale listings make this a benign outcome for callers.
const codeAlreadyAbsent = "409003"

// APIError is the structured fault the REST API returns in its error
// envelope.
type APIError struct {
	Code       string
	Summary    string
	Detail     string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tableau API error %s (http %d): %s: %s", e.Code, e.HTTPStatus, e.Summary, e.Detail)
}

// IsAlreadyAbsent reports whether err says the entity being deleted was
// already gone.
func IsAlreadyAbsent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeAlreadyAbsent
}
