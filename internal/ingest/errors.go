package ingest

import "errors"

// Ingestion failure kinds. Match them with errors.Is on any error returned
// by this package.
var (
	ErrNoAudioProvided          = errors.New("no audio provided")
	ErrEmptyOrUnreadableStream  = errors.New("empty or unreadable audio stream")
	ErrBadEncoding              = errors.New("bad audio encoding")
	ErrCaptureDeviceUnavailable = errors.New("capture device unavailable")
)

// IngestionError is a classified ingestion failure with an optional cause.
type IngestionError struct {
	Kind error
	Err  error
}

func (e *IngestionError) Error() string {
	if e.Err == nil {
		return "ingest: " + e.Kind.Error()
	}
	return "ingest: " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause for errors.Is / errors.As.
func (e *IngestionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func failure(kind, cause error) error {
	return &IngestionError{Kind: kind, Err: cause}
}
