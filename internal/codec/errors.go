package codec

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedValue  = errors.New("codec: unsupported value")
	ErrNoTargetMap       = errors.New("codec: no target map available to unpack handle")
	ErrNoHandleFactory   = errors.New("codec: no handle factory available to unpack pending handle")
	ErrDanglingHandle    = errors.New("codec: unexpected handle")
	ErrDanglingReference = errors.New("codec: shared reference to unknown value")
	ErrMalformed         = errors.New("codec: malformed payload")
)

// ErrorKind names one of the built-in error kinds reconstructed on decode.
// It satisfies error so errors.Is(err, KindTypeError) matches decoded errors.
type ErrorKind string

const (
	KindError          ErrorKind = "Error"
	KindEvalError      ErrorKind = "EvalError"
	KindRangeError     ErrorKind = "RangeError"
	KindReferenceError ErrorKind = "ReferenceError"
	KindSyntaxError    ErrorKind = "SyntaxError"
	KindTypeError      ErrorKind = "TypeError"
	KindURIError       ErrorKind = "URIError"
)

var knownKinds = map[string]ErrorKind{
	string(KindError):          KindError,
	string(KindEvalError):      KindEvalError,
	string(KindRangeError):     KindRangeError,
	string(KindReferenceError): KindReferenceError,
	string(KindSyntaxError):    KindSyntaxError,
	string(KindTypeError):      KindTypeError,
	string(KindURIError):       KindURIError,
}

func (k ErrorKind) Error() string { return string(k) }

// KindOf returns the built-in kind for name, falling back to KindError.
func KindOf(name string) ErrorKind {
	if k, ok := knownKinds[name]; ok {
		return k
	}
	return KindError
}

// Error is an error value as carried over the wire. Stack is the remote
// stack text verbatim; it is empty when the sender had none.
type Error struct {
	Kind    ErrorKind
	Name    string
	Message string
	Cause   any
	Stack   string
}

// NewError returns an error of the given built-in kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Name: string(kind), Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap returns the cause when it is itself an error.
func (e *Error) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// Is matches an ErrorKind against the kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// StackTrace returns the carried stack text.
func (e *Error) StackTrace() string {
	return e.Stack
}

// errorParts extracts the wire tuple of any error.
func errorParts(err error) (name, message string, cause any, stack string) {
	if e, ok := err.(*Error); ok {
		return e.Name, e.Message, e.Cause, e.Stack
	}

	name = string(KindError)
	if named, ok := err.(interface{ ErrorName() string }); ok {
		name = named.ErrorName()
	}
	message = err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		cause = inner
	}
	if st, ok := err.(interface{ StackTrace() string }); ok {
		stack = st.StackTrace()
	}
	return name, message, cause, stack
}
