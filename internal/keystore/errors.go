package keystore

import "fmt"

// FormatError reports a public key string that could not be parsed.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid public key: %s", e.Reason)
}

// NotFoundError reports an operation against an unknown key id, or a
// request for private material when only a public half is on file.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %s not found", e.ID)
}

// UnsupportedTypeError reports a generation request for an algorithm the
// generator does not produce.
type UnsupportedTypeError struct {
	Algorithm string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported key type %q", e.Algorithm)
}

// SecretUnavailableError reports that the at-rest encryption secret could
// not be loaded or applied. Operations touching private material fail with
// this error; public-only operations are unaffected.
type SecretUnavailableError struct {
	Path string
	Err  error
}

func (e *SecretUnavailableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("encryption secret unavailable: %v", e.Err)
	}
	return fmt.Sprintf("encryption secret unavailable at %s: %v", e.Path, e.Err)
}

func (e *SecretUnavailableError) Unwrap() error { return e.Err }
