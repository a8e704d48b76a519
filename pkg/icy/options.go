package icy

import (
	"io"
	"log/slog"
)

// MetadataHandler receives a raw metadata block, trailing NUL padding
// included. The slice is owned by the handler.
type MetadataHandler func(raw []byte)

type options struct {
	logger     *slog.Logger
	onMetadata MetadataHandler
}

// Option configures a Reader, Demuxer or Writer.
type Option func(*options)

// WithLogger sets the logger used for debug tracing of block boundaries.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetadataHandler sets the function called for every metadata block read
// by a Reader.
func WithMetadataHandler(fn MetadataHandler) Option {
	return func(o *options) {
		o.onMetadata = fn
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
