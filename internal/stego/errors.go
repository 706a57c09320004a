package stego

import (
	"errors"

	"github.com/faanross/simulacra_stego/internal/channel"
)

// Hide and Reveal report every expected failure as one of these. Callers
// test with errors.Is.
var (
	ErrInvalidCarrier   = errors.New("invalid or empty carrier")
	ErrEmptyPayload     = errors.New("empty message")
	ErrCapacityExceeded = channel.ErrCapacityExceeded
	ErrNoHiddenMessage  = errors.New("no hidden message found")
	ErrDecryptionFailed = errors.New("incorrect password or message was not encrypted")
)

// Describe turns an error from Hide or Reveal into a sentence for an end
// user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCarrier):
		return "Please provide a valid image or carrier text."
	case errors.Is(err, ErrEmptyPayload):
		return "Please enter a message to hide."
	case errors.Is(err, ErrCapacityExceeded):
		return "Message too large for this image."
	case errors.Is(err, ErrNoHiddenMessage):
		return "No hidden message found."
	case errors.Is(err, ErrDecryptionFailed):
		return "Incorrect password or the message was not encrypted."
	default:
		return "Error processing the message: " + err.Error()
	}
}
