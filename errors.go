package portal

import (
	"context"
	"errors"
	"net"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the closed set of failures a provider operation can report.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindInvalidCredentials
	KindInvalidCredentialsFormat
	KindEmailAlreadyRegistered
	KindEmailNotConfirmed
	KindValidation
	KindUnauthenticated
)

// Text codes carried by goerrors.Error values for each kind. Backends
// return rich errors with these text codes so the provider can classify them.
const (
	TextCodeUnknown                  = "UNKNOWN"
	TextCodeNetwork                  = "NETWORK_ERROR"
	TextCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	TextCodeInvalidCredentialsFormat = "INVALID_CREDENTIALS_FORMAT"
	TextCodeEmailAlreadyRegistered   = "EMAIL_ALREADY_REGISTERED"
	TextCodeEmailNotConfirmed        = "EMAIL_NOT_CONFIRMED"
	TextCodeValidation               = "VALIDATION_ERROR"
	TextCodeUnauthenticated          = "UNAUTHENTICATED"
)

var kindTextCodes = map[ErrorKind]string{
	KindUnknown:                  TextCodeUnknown,
	KindNetwork:                  TextCodeNetwork,
	KindInvalidCredentials:       TextCodeInvalidCredentials,
	KindInvalidCredentialsFormat: TextCodeInvalidCredentialsFormat,
	KindEmailAlreadyRegistered:   TextCodeEmailAlreadyRegistered,
	KindEmailNotConfirmed:        TextCodeEmailNotConfirmed,
	KindValidation:               TextCodeValidation,
	KindUnauthenticated:          TextCodeUnauthenticated,
}

// TextCode returns the text code associated with the kind
func (k ErrorKind) TextCode() string {
	if code, ok := kindTextCodes[k]; ok {
		return code
	}
	return TextCodeUnknown
}

func (k ErrorKind) String() string {
	return k.TextCode()
}

func (k ErrorKind) category() goerrors.Category {
	switch k {
	case KindNetwork:
		return goerrors.CategoryExternal
	case KindInvalidCredentials, KindEmailNotConfirmed, KindUnauthenticated:
		return goerrors.CategoryAuth
	case KindInvalidCredentialsFormat, KindValidation:
		return goerrors.CategoryValidation
	case KindEmailAlreadyRegistered:
		return goerrors.CategoryConflict
	default:
		return goerrors.CategoryInternal
	}
}

func (k ErrorKind) code() int {
	switch k {
	case KindNetwork:
		return goerrors.CodeRequestTimeout
	case KindInvalidCredentials, KindEmailNotConfirmed, KindUnauthenticated:
		return goerrors.CodeUnauthorized
	case KindInvalidCredentialsFormat, KindValidation:
		return goerrors.CodeBadRequest
	case KindEmailAlreadyRegistered:
		return goerrors.CodeConflict
	default:
		return goerrors.CodeInternal
	}
}

// NewError builds a rich error for the given kind
func NewError(kind ErrorKind, message string) *goerrors.Error {
	return goerrors.New(message, kind.category()).
		WithCode(kind.code()).
		WithTextCode(kind.TextCode())
}

// WrapError wraps a source error with the given kind
func WrapError(err error, kind ErrorKind, message string) *goerrors.Error {
	return goerrors.Wrap(err, kind.category(), message).
		WithCode(kind.code()).
		WithTextCode(kind.TextCode())
}

// KindOf returns the kind recorded on an error produced by this package or
// by a backend that follows its text codes.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		for kind, code := range kindTextCodes {
			if richErr.TextCode == code {
				return kind
			}
		}
		if richErr.Category == goerrors.CategoryValidation {
			return KindValidation
		}
	}

	return KindUnknown
}

// Classify maps an arbitrary backend error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if kind := KindOf(err); kind != KindUnknown {
		return kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUnknown
}

// classifyError normalizes a backend error into a rich error with the
// operation recorded in its metadata. The backend message is kept verbatim.
func classifyError(op string, err error) *goerrors.Error {
	kind := Classify(err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		out := richErr.Clone()
		if out.TextCode != kind.TextCode() {
			out.TextCode = kind.TextCode()
			out.Code = kind.code()
		}
		return out.WithMetadata(map[string]any{"operation": op})
	}

	return WrapError(err, kind, err.Error()).
		WithMetadata(map[string]any{"operation": op})
}

// ErrorMessage returns the user facing message of an error
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

var (
	// ErrProviderClosed is returned by operations on a closed provider
	ErrProviderClosed = goerrors.New("session provider is closed", goerrors.CategoryOperation).
				WithTextCode("PROVIDER_CLOSED")

	// ErrProviderNotStarted is returned by operations before Start
	ErrProviderNotStarted = goerrors.New("session provider not started", goerrors.CategoryOperation).
				WithTextCode("PROVIDER_NOT_STARTED")

	// ErrProviderMissing is returned when a request has no provider attached
	ErrProviderMissing = goerrors.New("session provider missing from request", goerrors.CategoryMiddleware).
				WithCode(goerrors.CodeInternal).
				WithTextCode("PROVIDER_MISSING")
)
