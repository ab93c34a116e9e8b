package apperror

import "errors"

// Kind classifies engine failures so callers can branch without matching text.
type Kind int

const (
	Internal Kind = iota
	NotFound
	InvalidState
	Unauthorized
	Conflict
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case InvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error is a typed engine failure. Packages declare their sentinels with New
// and wrap them with fmt.Errorf("...: %w", err) as usual.
type Error struct {
	Kind Kind
	Msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
