package icy

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// State is the position of a Demuxer inside the ICY cycle.
type State int

const (
	// StateAudio passes audio bytes through until metaint is reached.
	StateAudio State = iota
	// StateLength waits for the metadata length byte.
	StateLength
	// StateMetadata buffers the metadata block.
	StateMetadata
)

func (s State) String() string {
	switch s {
	case StateAudio:
		return "audio"
	case StateLength:
		return "length"
	case StateMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Demuxer splits a raw ICY byte stream written to it into audio, written to
// the audio writer, and metadata blocks, passed to the handler. It is not
// safe for concurrent use.
type Demuxer struct {
	metaint    int
	audio      io.Writer
	onMetadata MetadataHandler
	logger     *slog.Logger

	acc    *Accumulator
	state  State
	closed bool
}

// NewDemuxer returns a Demuxer for a stream with the given metaint.
func NewDemuxer(metaint int, audio io.Writer, onMetadata MetadataHandler, opts ...Option) (*Demuxer, error) {
	if err := validateMetaint(metaint); err != nil {
		return nil, err
	}
	if audio == nil {
		audio = io.Discard
	}

	o := newOptions(opts)
	if onMetadata == nil {
		onMetadata = o.onMetadata
	}

	d := &Demuxer{
		metaint:    metaint,
		audio:      audio,
		onMetadata: onMetadata,
		logger:     o.logger,
	}
	d.acc = NewAccumulator(d.writeAudio)
	if err := d.awaitAudio(); err != nil {
		return nil, err
	}

	d.logger.Debug("created demuxer", "metaint", metaint)
	return d, nil
}

func (d *Demuxer) writeAudio(p []byte) error {
	_, err := d.audio.Write(p)
	return err
}

func (d *Demuxer) awaitAudio() error {
	d.state = StateAudio
	return d.acc.Passthrough(d.metaint, d.onAudioDone)
}

func (d *Demuxer) onAudioDone() error {
	d.state = StateLength
	return d.acc.BufferExactly(1, d.onLengthByte)
}

func (d *Demuxer) onLengthByte(b []byte) error {
	length := int(b[0]) * BlockSize
	d.logger.Debug("metadata length byte", "blocks", b[0], "length", length)
	if length == 0 {
		return d.awaitAudio()
	}
	d.state = StateMetadata
	return d.acc.BufferExactly(length, d.onMetadataDone)
}

func (d *Demuxer) onMetadataDone(raw []byte) error {
	if d.onMetadata != nil {
		d.onMetadata(raw)
	}
	return d.awaitAudio()
}

// Write feeds raw stream bytes. It always consumes all of p unless an error
// occurs.
func (d *Demuxer) Write(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if err := d.acc.Feed(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close marks the end of the stream. A metadata block that is still
// incomplete is dropped.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if n := d.acc.Discard(); n > 0 || d.state != StateAudio {
		d.logger.Debug("discarding incomplete metadata", "state", d.state, "bytes", n)
	}
	return nil
}

// State returns the current position in the cycle.
func (d *Demuxer) State() State {
	return d.state
}

// Metaint returns the number of audio bytes between metadata blocks.
func (d *Demuxer) Metaint() int {
	return d.metaint
}

type segment struct {
	meta bool
	data []byte
}

// Reader reads clean audio from an ICY stream. Metadata blocks are passed to
// the handler set with WithMetadataHandler once every audio byte before them
// has been returned by Read.
type Reader struct {
	src        io.Reader
	demux      *Demuxer
	onMetadata MetadataHandler

	scratch  []byte
	segments []segment
	err      error
}

const defaultReadSize = 32 * 1024

// NewReader returns a Reader over src, which must be positioned at the start
// of the audio data.
func NewReader(src io.Reader, metaint int, opts ...Option) (*Reader, error) {
	o := newOptions(opts)
	r := &Reader{
		src:        src,
		onMetadata: o.onMetadata,
		scratch:    make([]byte, defaultReadSize),
	}

	d, err := NewDemuxer(metaint, writerFunc(r.pushAudio), r.pushMetadata, WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	r.demux = d
	return r, nil
}

func (r *Reader) pushAudio(p []byte) (int, error) {
	if n := len(r.segments); n > 0 && !r.segments[n-1].meta {
		r.segments[n-1].data = append(r.segments[n-1].data, p...)
		return len(p), nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	r.segments = append(r.segments, segment{data: data})
	return len(p), nil
}

func (r *Reader) pushMetadata(raw []byte) {
	r.segments = append(r.segments, segment{meta: true, data: raw})
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	for n < len(p) {
		if len(r.segments) == 0 {
			if n > 0 {
				return n, nil
			}
			if r.err != nil {
				return 0, r.err
			}
			r.fill()
			continue
		}

		seg := &r.segments[0]
		if seg.meta {
			if n > 0 {
				return n, nil
			}
			r.segments = r.segments[1:]
			if r.onMetadata != nil {
				r.onMetadata(seg.data)
			}
			continue
		}

		c := copy(p[n:], seg.data)
		n += c
		seg.data = seg.data[c:]
		if len(seg.data) == 0 {
			r.segments = r.segments[1:]
		}
	}
	return n, nil
}

func (r *Reader) fill() {
	n, err := r.src.Read(r.scratch)
	if n > 0 {
		if _, werr := r.demux.Write(r.scratch[:n]); werr != nil {
			r.err = werr
			return
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			_ = r.demux.Close()
		}
		r.err = err
	}
}

// State returns the position of the underlying demuxer.
func (r *Reader) State() State {
	return r.demux.State()
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
