// internal/automation/errors.go
package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

var (
	// ErrElementNotFound is matched by every *ElementNotFoundError.
	ErrElementNotFound = errors.New("element not found")
	// ErrTimeout means no completion signal arrived within the configured bound.
	ErrTimeout = errors.New("generation timed out")
	// ErrDownloadFailure is the soft failure of a ready generation that produced no downloads.
	// It is logged, never returned from Dispatch.
	ErrDownloadFailure = errors.New("no downloads triggered")
	// ErrBusy is returned when a command arrives while another is still in flight.
	ErrBusy = errors.New("a command is already in flight")
)

// ElementNotFoundError names the page element that could not be located.
type ElementNotFoundError struct {
	Element   string
	Selectors []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Element)
}

// Is lets errors.Is(err, ErrElementNotFound) match.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// fatal reports whether err must abort the whole command instead of being folded into the
// control flow as a negative signal.
func fatal(err error) bool {
	return errors.Is(err, schemas.ErrConnectionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
