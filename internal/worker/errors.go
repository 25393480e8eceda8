package worker

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidOperation is returned when an operation is not accepted in the current state.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrDisposed matches any *DisposedError.
	ErrDisposed = errors.New("object disposed")
	// ErrArgument is returned for invalid caller input (non-positive timeout, empty name, ...).
	ErrArgument = errors.New("invalid argument")
)

// DisposedError reports an operation attempted on a disposed object.
type DisposedError struct {
	ObjectName string
}

func (e *DisposedError) Error() string { return fmt.Sprintf("'%s' is disposed.", e.ObjectName) }

func (e *DisposedError) Is(target error) bool { return target == ErrDisposed }

// NewDisposedError returns an error matching ErrDisposed for the named object.
func NewDisposedError(objectName string) error {
	return errors.WithStack(&DisposedError{ObjectName: objectName})
}

// KindError is a fault with a fixed kind; errors.Is(err, kind) reports true for it.
type KindError struct {
	Kind error
	Msg  string
}

func (e *KindError) Error() string { return e.Msg }

func (e *KindError) Is(target error) bool { return target == e.Kind }

// Kindf formats a fault of the given kind, with a stack attached.
func Kindf(kind error, format string, args ...any) error {
	return errors.WithStack(&KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// InvalidOperationf formats an error matching ErrInvalidOperation.
func InvalidOperationf(format string, args ...any) error {
	return Kindf(ErrInvalidOperation, format, args...)
}

// Argumentf formats an error matching ErrArgument.
func Argumentf(format string, args ...any) error {
	return Kindf(ErrArgument, format, args...)
}

// IsInternal reports whether err carries an internal-error fault, i.e. a broken
// engine invariant rather than caller misuse.
func IsInternal(err error) bool {
	return err != nil && errors.HasAssertionFailure(err)
}

func internalErrorf(format string, args ...any) error {
	return errors.AssertionFailedf(format, args...)
}
