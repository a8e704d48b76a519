package icy

import "github.com/pkg/errors"

var (
	// ErrConfiguration is returned when a stream is constructed with an
	// invalid metaint.
	ErrConfiguration = errors.New("icy: invalid configuration")

	// ErrProtocol reports a violated framing invariant. It is not recoverable.
	ErrProtocol = errors.New("icy: protocol error")

	// ErrValidation is returned when queued metadata cannot be encoded.
	ErrValidation = errors.New("icy: invalid metadata")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("icy: closed")
)
