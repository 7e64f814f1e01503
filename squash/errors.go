package squash

import (
	"github.com/pkg/errors"
)

var ErrNoLoadableSegments = errors.New("no PT_LOAD segments selected")

type Kind int

const (
	KindUnknown Kind = iota
	KindUsage
	KindSourceAccess
	KindNoLoadableSegments
	KindDestinationAccess
	KindStructuralWrite
	KindAllocation
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindSourceAccess:
		return "source"
	case KindNoLoadableSegments:
		return "no loadable segments"
	case KindDestinationAccess:
		return "destination"
	case KindStructuralWrite:
		return "structural write"
	case KindAllocation:
		return "allocation"
	}
	return "unknown"
}

// Error tags a failure with the stage of the run it belongs to.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func wrapf(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

func errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}
