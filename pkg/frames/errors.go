package frames

import "errors"

var (
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrMalformedPayload  = errors.New("malformed payload")
)
