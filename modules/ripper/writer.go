package ripper

import (
	"io"
	"sync"
)

// event is either a chunk of audio or, when track is set, the start of a new
// track file.
type event struct {
	data  []byte
	track string
}

// ChannelWriter carries audio and track changes to the file writer in stream
// order.
type ChannelWriter struct {
	sync.Mutex
	dataChan chan event
	closed   bool
}

func NewChannelWriter() *ChannelWriter {
	return &ChannelWriter{
		dataChan: make(chan event, 10240), // Buffer size can be adjusted as needed
	}
}

func (cw *ChannelWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	// io.Copy reuses p, so the channel gets its own copy.
	data := make([]byte, len(p))
	copy(data, p)

	if err := cw.send(event{data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// StartTrack switches the output to the file at path. Audio written after
// this call goes to the new file.
func (cw *ChannelWriter) StartTrack(path string) error {
	return cw.send(event{track: path})
}

func (cw *ChannelWriter) send(e event) error {
	cw.Lock()
	defer cw.Unlock()

	if cw.closed {
		return io.ErrClosedPipe
	}

	cw.dataChan <- e

	return nil
}

func (cw *ChannelWriter) Close() error {
	cw.Lock()
	defer cw.Unlock()

	if !cw.closed {
		close(cw.dataChan)
		cw.closed = true
	}

	return nil
}
