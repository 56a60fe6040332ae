package kyc

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	KindInternalFailure Kind = iota
	KindInvalidConfig
	KindUnsupportedFormat
	KindCorruptData
	KindAlignmentFailed
	KindRecognitionFailed
	KindAlreadyInitialized
	KindNotInitialized
)

var kindNames = map[Kind]string{
	KindInternalFailure:    "InternalFailure",
	KindInvalidConfig:      "InvalidConfig",
	KindUnsupportedFormat:  "UnsupportedFormat",
	KindCorruptData:        "CorruptData",
	KindAlignmentFailed:    "AlignmentFailed",
	KindRecognitionFailed:  "RecognitionFailed",
	KindAlreadyInitialized: "AlreadyInitialized",
	KindNotInitialized:     "NotInitialized",
}

var kindCodes = map[Kind]int{
	KindInvalidConfig:      -1,
	KindUnsupportedFormat:  -2,
	KindCorruptData:        -3,
	KindAlignmentFailed:    -4,
	KindRecognitionFailed:  -5,
	KindAlreadyInitialized: -6,
	KindNotInitialized:     -7,
	KindInternalFailure:    -8,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindInternalFailure, false
}

// Code returns the negative result code reported to callers.
func (k Kind) Code() int {
	return kindCodes[k]
}

// Retryable reports whether a caller may retry the request with a new image
// while keeping the same pipeline instance.
func (k Kind) Retryable() bool {
	switch k {
	case KindCorruptData, KindUnsupportedFormat, KindAlignmentFailed, KindRecognitionFailed:
		return true
	}
	return false
}

// Sentinel errors usable with errors.Is.
var (
	ErrInternalFailure    = &Error{Kind: KindInternalFailure}
	ErrInvalidConfig      = &Error{Kind: KindInvalidConfig}
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ErrCorruptData        = &Error{Kind: KindCorruptData}
	ErrAlignmentFailed    = &Error{Kind: KindAlignmentFailed}
	ErrRecognitionFailed  = &Error{Kind: KindRecognitionFailed}
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized}
	ErrNotInitialized     = &Error{Kind: KindNotInitialized}
)

// Error is a tagged engine error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same kind, so errors.Is(err, ErrCorruptData)
// holds regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds a tagged error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err. Untagged errors are internal failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalFailure
}
