package icy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// framer alternates a passthrough window and a buffered window.
type framer struct {
	acc      *Accumulator
	pass     int
	hold     int
	out      bytes.Buffer
	held     [][]byte
	crossing int
}

func newFramer(pass, hold int) *framer {
	f := &framer{pass: pass, hold: hold}
	f.acc = NewAccumulator(func(p []byte) error {
		f.out.Write(p)
		return nil
	})
	_ = f.acc.Passthrough(f.pass, f.onPass)
	return f
}

func (f *framer) onPass() error {
	f.crossing++
	return f.acc.BufferExactly(f.hold, f.onHold)
}

func (f *framer) onHold(b []byte) error {
	f.crossing++
	f.held = append(f.held, b)
	return f.acc.Passthrough(f.pass, f.onPass)
}

func TestAccumulator_SplitsChunks(t *testing.T) {
	input := []byte("aaaBBbbbCCccc")

	tests := map[string]struct {
		chunk int
	}{
		"one byte":    {chunk: 1},
		"two bytes":   {chunk: 2},
		"window size": {chunk: 3},
		"odd":         {chunk: 4},
		"whole":       {chunk: len(input)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFramer(3, 2)
			for i := 0; i < len(input); i += tt.chunk {
				end := i + tt.chunk
				if end > len(input) {
					end = len(input)
				}
				require.NoError(t, f.acc.Feed(input[i:end]))
			}

			assert.Equal(t, "aaabbbccc", f.out.String())
			assert.Equal(t, [][]byte{[]byte("BB"), []byte("CC")}, f.held)
			assert.Equal(t, 5, f.crossing)
			assert.Equal(t, 2, f.acc.Remaining())
		})
	}
}

func TestAccumulator_ZeroLengthChunk(t *testing.T) {
	f := newFramer(3, 2)
	require.NoError(t, f.acc.Feed(nil))
	require.NoError(t, f.acc.Feed([]byte{}))
	assert.Equal(t, 0, f.out.Len())
	assert.Equal(t, 3, f.acc.Remaining())
}

func TestAccumulator_MissingContinuation(t *testing.T) {
	acc := NewAccumulator(func([]byte) error { return nil })
	require.NoError(t, acc.Passthrough(2, func() error { return nil }))

	err := acc.Feed([]byte("abc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "no continuation registered")

	// The accumulator stays failed.
	assert.ErrorIs(t, acc.Feed([]byte("d")), ErrProtocol)
}

func TestAccumulator_MissingContinuationAtChunkEnd(t *testing.T) {
	acc := NewAccumulator(func([]byte) error { return nil })
	require.NoError(t, acc.BufferExactly(2, func([]byte) error { return nil }))

	err := acc.Feed([]byte("ab"))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestAccumulator_Register(t *testing.T) {
	noop := func() error { return nil }
	noopBuf := func([]byte) error { return nil }

	tests := map[string]struct {
		register func(a *Accumulator) error
	}{
		"zero passthrough": {
			register: func(a *Accumulator) error { return a.Passthrough(0, noop) },
		},
		"negative buffer": {
			register: func(a *Accumulator) error { return a.BufferExactly(-5, noopBuf) },
		},
		"unbounded buffer": {
			register: func(a *Accumulator) error { return a.BufferExactly(Unbounded, noopBuf) },
		},
		"nil callback": {
			register: func(a *Accumulator) error { return a.Passthrough(3, nil) },
		},
		"twice": {
			register: func(a *Accumulator) error {
				if err := a.Passthrough(3, noop); err != nil {
					return err
				}
				return a.BufferExactly(1, noopBuf)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			acc := NewAccumulator(func([]byte) error { return nil })
			assert.ErrorIs(t, tt.register(acc), ErrProtocol)
		})
	}
}

func TestAccumulator_Unbounded(t *testing.T) {
	var out bytes.Buffer
	acc := NewAccumulator(func(p []byte) error {
		out.Write(p)
		return nil
	})
	require.NoError(t, acc.Passthrough(Unbounded, nil))

	payload := bytes.Repeat([]byte("x"), 100000)
	require.NoError(t, acc.Feed(payload))
	require.NoError(t, acc.Feed([]byte("y")))

	assert.Equal(t, len(payload)+1, out.Len())
	assert.Equal(t, Unbounded, acc.Remaining())
}

func TestAccumulator_BufferCopiesInput(t *testing.T) {
	var got []byte
	acc := NewAccumulator(func([]byte) error { return nil })
	require.NoError(t, acc.BufferExactly(4, func(b []byte) error {
		got = b
		return acc.Passthrough(Unbounded, nil)
	}))

	chunk := []byte("ab")
	require.NoError(t, acc.Feed(chunk))
	chunk[0] = 'z'
	require.NoError(t, acc.Feed([]byte("cd")))

	assert.Equal(t, []byte("abcd"), got)
}

func TestAccumulator_Discard(t *testing.T) {
	f := newFramer(2, 4)
	require.NoError(t, f.acc.Feed([]byte("aaBB")))
	assert.Equal(t, 2, f.acc.Pending())
	assert.Equal(t, 2, f.acc.Remaining())

	assert.Equal(t, 2, f.acc.Discard())
	assert.Equal(t, 0, f.acc.Pending())
	assert.Equal(t, 4, f.acc.Remaining())
	assert.Empty(t, f.held)

	// Nothing to drop in a passthrough window.
	g := newFramer(2, 4)
	require.NoError(t, g.acc.Feed([]byte("a")))
	assert.Equal(t, 0, g.acc.Discard())
}

func TestAccumulator_EmitError(t *testing.T) {
	boom := assert.AnError
	acc := NewAccumulator(func([]byte) error { return boom })
	require.NoError(t, acc.Passthrough(4, func() error { return nil }))

	assert.ErrorIs(t, acc.Feed([]byte("ab")), boom)
	assert.ErrorIs(t, acc.Err(), boom)
}
