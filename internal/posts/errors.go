package posts

type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrNotFound communicates that the requested record does not exist
	ErrNotFound Error = "record not found"

	// ErrCycleInFlight communicates that a post cycle was triggered while
	// another one was still running. The trigger is dropped, not queued.
	ErrCycleInFlight Error = "post cycle already in flight"

	// ErrEmptyPost communicates that the generation step produced a blank
	// post after normalization and trimming
	ErrEmptyPost Error = "generated post is empty"
)
