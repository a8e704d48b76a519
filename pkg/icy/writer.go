package icy

import (
	"io"
	"log/slog"
	"sync"
)

var noMetadata = []byte{0}

// Writer injects metadata blocks into an audio stream every metaint bytes.
//
// Write and Close must be called from a single goroutine. Queue and
// QueueMetadata may be called concurrently with them.
type Writer struct {
	dst     io.Writer
	metaint int
	logger  *slog.Logger

	acc *Accumulator

	// due is set once a full window has been written and its block has not.
	due     bool
	written int
	closed  bool

	mu    sync.Mutex
	queue [][]byte
}

// NewWriter returns a Writer that writes to dst.
func NewWriter(dst io.Writer, metaint int, opts ...Option) (*Writer, error) {
	if err := validateMetaint(metaint); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	w := &Writer{
		dst:     dst,
		metaint: metaint,
		logger:  o.logger,
	}
	w.acc = NewAccumulator(w.writeAudio)
	if err := w.acc.Passthrough(w.metaint, w.onWindowDone); err != nil {
		return nil, err
	}
	return w, nil
}

// Queue queues a title to be sent at the next metadata boundary.
func (w *Writer) Queue(title string) error {
	return w.QueueMetadata(Title(title))
}

// QueueMetadata queues m to be sent at the next metadata boundary. m must
// contain a StreamTitle and serialize to at most MaxPayload bytes.
func (w *Writer) QueueMetadata(m *Metadata) error {
	block, err := EncodeBlock(m)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.queue = append(w.queue, block)
	w.mu.Unlock()
	return nil
}

// Queued returns the number of blocks waiting to be sent.
func (w *Writer) Queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Writer) next() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return noMetadata
	}
	block := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return block
}

func (w *Writer) onWindowDone() error {
	w.due = true
	return w.acc.Passthrough(w.metaint, w.onWindowDone)
}

func (w *Writer) inject() error {
	block := w.next()
	w.logger.Debug("injecting metadata", "blocks", block[0])
	if _, err := w.dst.Write(block); err != nil {
		return err
	}
	w.due = false
	return nil
}

func (w *Writer) writeAudio(p []byte) error {
	if w.due {
		if err := w.inject(); err != nil {
			return err
		}
	}
	n, err := w.dst.Write(p)
	w.written += n
	return err
}

// Write writes audio bytes, injecting metadata where a window ends.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.written = 0
	err := w.acc.Feed(p)
	return w.written, err
}

// Close writes the block owed for the last complete window, if any. It does
// not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.due {
		return w.inject()
	}
	return nil
}

// Metaint returns the number of audio bytes between metadata blocks.
func (w *Writer) Metaint() int {
	return w.metaint
}
