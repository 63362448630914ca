package auth

import "errors"

var (
	// ErrDecryption reports a malformed or tampered credential blob, or a
	// blob sealed under a different secret.
	ErrDecryption = errors.New("auth: decryption failed")

	// ErrAuthExpired reports that the session holds no live credential.
	ErrAuthExpired = errors.New("auth: credential missing or expired")

	// ErrSessionUnavailable reports that the session record could not be
	// loaded or written while updating authentication state.
	ErrSessionUnavailable = errors.New("auth: session unavailable")
)
