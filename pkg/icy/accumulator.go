package icy

import (
	"github.com/pkg/errors"
)

// Unbounded is a Passthrough window that never ends.
const Unbounded = -1

type mode int

const (
	modeIdle mode = iota
	modePassthrough
	modeBuffer
)

func (m mode) String() string {
	switch m {
	case modePassthrough:
		return "passthrough"
	case modeBuffer:
		return "buffer"
	default:
		return "idle"
	}
}

// Accumulator delivers exactly n bytes of a chunked byte stream to the
// current request, whatever the chunk boundaries are. A request either
// passes its bytes to emit as they arrive, or buffers them and hands the
// whole window to its callback.
//
// Exactly one request is active at a time. The callback of a completed
// request must register the next one before returning.
type Accumulator struct {
	emit func([]byte) error

	mode   mode
	left   int
	onPass func() error
	onBuf  func([]byte) error
	buf    []byte

	err error
}

// NewAccumulator returns an Accumulator that sends passthrough bytes to emit.
// emit must not retain the slice it is given.
func NewAccumulator(emit func([]byte) error) *Accumulator {
	return &Accumulator{emit: emit}
}

// Passthrough emits the next n bytes unchanged and then calls fn. With
// n == Unbounded the window never completes and fn may be nil.
func (a *Accumulator) Passthrough(n int, fn func() error) error {
	if err := a.register(n); err != nil {
		return err
	}
	if n != Unbounded && fn == nil {
		return errors.Wrap(ErrProtocol, "passthrough requires a callback")
	}
	a.mode = modePassthrough
	a.left = n
	a.onPass = fn
	return nil
}

// BufferExactly collects the next n bytes and then calls fn with them.
func (a *Accumulator) BufferExactly(n int, fn func([]byte) error) error {
	if n == Unbounded {
		return errors.Wrap(ErrProtocol, "can only buffer a finite number of bytes")
	}
	if err := a.register(n); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrap(ErrProtocol, "buffer requires a callback")
	}
	a.mode = modeBuffer
	a.left = n
	a.onBuf = fn
	a.buf = make([]byte, 0, n)
	return nil
}

func (a *Accumulator) register(n int) error {
	if a.mode != modeIdle {
		return errors.Wrapf(ErrProtocol, "a %s request is already registered", a.mode)
	}
	if n <= 0 && n != Unbounded {
		return errors.Wrapf(ErrProtocol, "window must be positive, got %d", n)
	}
	return nil
}

// Feed consumes chunk, completing as many windows as it spans.
func (a *Accumulator) Feed(chunk []byte) error {
	for len(chunk) > 0 {
		if a.err != nil {
			return a.err
		}
		if a.mode == modeIdle {
			a.err = errors.Wrap(ErrProtocol, "no continuation registered")
			return a.err
		}

		if a.left == Unbounded {
			if err := a.emit(chunk); err != nil {
				a.err = err
				return err
			}
			return nil
		}

		n := len(chunk)
		if n > a.left {
			n = a.left
		}
		piece := chunk[:n]
		chunk = chunk[n:]
		a.left -= n

		switch a.mode {
		case modePassthrough:
			if err := a.emit(piece); err != nil {
				a.err = err
				return err
			}
		case modeBuffer:
			a.buf = append(a.buf, piece...)
		}

		if a.left == 0 {
			if err := a.complete(); err != nil {
				a.err = err
				return err
			}
		}
	}
	return a.err
}

func (a *Accumulator) complete() error {
	var err error
	switch a.mode {
	case modePassthrough:
		fn := a.onPass
		a.reset()
		err = fn()
	case modeBuffer:
		fn, data := a.onBuf, a.buf
		a.reset()
		err = fn(data)
	}
	if err != nil {
		return err
	}
	if a.mode == modeIdle {
		return errors.Wrap(ErrProtocol, "no continuation registered")
	}
	return nil
}

func (a *Accumulator) reset() {
	a.mode = modeIdle
	a.left = 0
	a.onPass = nil
	a.onBuf = nil
	a.buf = nil
}

// Discard drops a partially buffered window and returns its size. The
// request stays registered with its remaining count reset, so the
// accumulator is left as it was before the window started.
func (a *Accumulator) Discard() int {
	if a.mode != modeBuffer {
		return 0
	}
	n := len(a.buf)
	a.left += n
	a.buf = a.buf[:0]
	return n
}

// Pending is the number of bytes buffered for the current window.
func (a *Accumulator) Pending() int {
	return len(a.buf)
}

// Remaining is the number of bytes left in the current window, or Unbounded.
func (a *Accumulator) Remaining() int {
	return a.left
}

// Err returns the error that stopped the accumulator, if any.
func (a *Accumulator) Err() error {
	return a.err
}
