package analyzer

import "errors"

// ErrSessionRequired is returned by ChatHistory when no session id is given
// and falling back to the most recent session is disabled.
var ErrSessionRequired = errors.New("analyzer: session id is required")

// InputError reports an utterance that cannot be analysed. No state is
// touched when it is returned.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "analyzer: invalid input: " + e.Reason
}
