package transfer

import "fmt"

// UnauthorizedError is returned when no grant matches a transfer-intent. The transfer is
// cancelled; this is the expected outcome for page-triggered noise.
type UnauthorizedError struct {
	URL       string // Originating URL of the intent
	SurfaceID string // Surface the intent came from
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("transfer of %s from surface %s was not requested", e.URL, e.SurfaceID)
}

// DuplicateError is returned when the logical key of a transfer is already in flight.
type DuplicateError struct {
	Key string // Logical key that is already claimed
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("transfer %s is already in flight", e.Key)
}

// NotOwnerError is returned when the observing listener does not own the event because a
// secondary listener on the same session handles it.
type NotOwnerError struct {
	SessionID string
	Listener  SurfaceKind
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("%s listener does not own events of session %s", e.Listener, e.SessionID)
}

// MalformedURLError represents a URL that could not be parsed or has no host.
type MalformedURLError struct {
	URL string // The offending URL
	Err error  // Underlying parse error, if any
}

func (e *MalformedURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed url %q: %v", e.URL, e.Err)
	}

	return fmt.Sprintf("malformed url %q: missing host", e.URL)
}

func (e *MalformedURLError) Unwrap() error {
	return e.Err
}

// SurfaceError represents a failure of a content surface to start or find a transfer.
type SurfaceError struct {
	SurfaceID string // Surface involved, empty when none is available
	Reason    string // Human-readable explanation
	Err       error  // Underlying error, if any
}

func (e *SurfaceError) Error() string {
	if e.SurfaceID == "" {
		return fmt.Sprintf("surface error: %s", e.Reason)
	}

	return fmt.Sprintf("surface error for '%s': %s", e.SurfaceID, e.Reason)
}

func (e *SurfaceError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when an in-flight download or history entry does not exist.
type NotFoundError struct {
	Kind string // "download" or "history entry"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StateError is returned when a control action does not apply to the download's current status.
type StateError struct {
	ID     string
	Action string
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s download %s while %s", e.Action, e.ID, e.Status)
}
