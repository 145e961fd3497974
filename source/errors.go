package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches a StatusError for a missing page or project.
var ErrNotFound = errors.New("not found")

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scrapbox: %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Is reports a 404 as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}
