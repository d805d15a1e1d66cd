package protocol

import "errors"

var (
	ErrMissingMessageName = errors.New("protocol: message name is required")
	ErrHandshakeFailure   = errors.New("protocol: handshake failed")
	ErrTimeout            = errors.New("protocol: timeout")
	ErrMalformedEnvelope  = errors.New("protocol: malformed envelope")
	ErrCallback           = errors.New("protocol: callback failed")
)
