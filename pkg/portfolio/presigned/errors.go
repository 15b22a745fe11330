package presigned

import "errors"

// ErrNoSecretKey means the signer cannot sign or verify anything.
var ErrNoSecretKey = errors.New("presigned: no signing key configured")

// ErrRejected matches every error caused by a bad or stale upload URL.
var ErrRejected = errors.New("presigned: upload rejected")

var (
	ErrMissingSignature  = rejection("missing signature parameter")
	ErrInvalidExpiration = rejection("invalid expires parameter")
	ErrExpired           = rejection("upload URL has expired")
	ErrInvalidSignature  = rejection("signature does not match object key")
)

type rejectedError struct{ reason string }

func rejection(reason string) error { return &rejectedError{reason: reason} }

func (e *rejectedError) Error() string { return "presigned: " + e.reason }

func (e *rejectedError) Is(target error) bool { return target == ErrRejected }

// IsAuthError reports whether err means the client should get 403.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrRejected)
}
