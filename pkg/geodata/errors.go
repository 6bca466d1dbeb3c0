package geodata

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a payload could not be normalized.
type ErrorKind string

const (
	UnsupportedFormat   ErrorKind = "unsupported_format"
	EmptyPayload        ErrorKind = "empty_payload"
	PayloadTooLarge     ErrorKind = "payload_too_large"
	InvalidArchive      ErrorKind = "invalid_archive"
	MalformedJSON       ErrorKind = "malformed_json"
	NoFeatureCollection ErrorKind = "no_feature_collection"
)

// FormatError is returned for every input problem. Message is safe to show
// to the uploader.
type FormatError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func newFormatError(kind ErrorKind, message string, err error) *FormatError {
	return &FormatError{Kind: kind, Message: message, Err: err}
}

// IsFormatError reports whether err is a FormatError, optionally of one of
// the given kinds.
func IsFormatError(err error, kinds ...ErrorKind) bool {
	var fe *FormatError
	if !errors.As(err, &fe) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if fe.Kind == kind {
			return true
		}
	}
	return false
}
