package crypt

import "errors"

var (
	ErrKeyNotFound       = errors.New("no key in URL fragment")
	ErrInvalidKey        = errors.New("invalid key")
	ErrDecryption        = errors.New("could not decrypt")
	ErrUnsupportedCipher = errors.New("unsupported cipher")
	ErrInvalidIterations = errors.New("invalid key derivation iteration count")
)

// DecryptionError is returned for every envelope that cannot be opened. Reason is safe to
// show: it never contains ciphertext or plaintext.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}

func decryptErr(reason string, err error) error {
	return &DecryptionError{Reason: reason, Err: err}
}
