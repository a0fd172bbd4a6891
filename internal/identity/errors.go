package identity

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation. Every error returned by Service carries one.
type Kind string

const (
	KindNoFaceDetected   Kind = "no_face_detected"
	KindUploadFailed     Kind = "upload_failed"
	KindIndexWriteFailed Kind = "index_write_failed"
	KindIndexReadFailed  Kind = "index_read_failed"
	KindNotFound         Kind = "not_found"
	KindInvalidImage     Kind = "invalid_image"
	KindEmbeddingFailed  Kind = "embedding_failed"
	KindDownloadFailed   Kind = "download_failed"
	KindDeleteFailed     Kind = "delete_failed"
)

var defaultMessages = map[Kind]string{
	KindNoFaceDetected:   "No face detected in the image.",
	KindUploadFailed:     "Failed to upload image.",
	KindIndexWriteFailed: "Failed to update the identity index.",
	KindIndexReadFailed:  "Failed to read the identity index.",
	KindNotFound:         "Not found.",
	KindInvalidImage:     "The uploaded file is not a readable image.",
	KindEmbeddingFailed:  "The face embedding service failed.",
	KindDownloadFailed:   "Failed to download photo.",
	KindDeleteFailed:     "Failed to delete photo.",
}

// Error is the structured failure returned by Service operations.
// Message is safe to show to end users; Err is the underlying cause and is meant for logs.
type Error struct {
	Kind       Kind
	Message    string
	IdentityID string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, &identity.Error{Kind: identity.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, identityID string, cause error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], IdentityID: identityID, Err: cause}
}

func notFoundIdentity(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("Identity %s not found.", id), IdentityID: id}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
