package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zachfi/icystream/pkg/icy"
)

// writeDeadline bounds a single write to a listener.
const writeDeadline = 10 * time.Second

// chunk is either audio or, when metadata is set, a now playing change.
type chunk struct {
	data     []byte
	metadata *icy.Metadata
}

// listener is one connected client. The relay closes done when it drops
// the listener.
type listener struct {
	id          string
	remote      string
	userAgent   string
	connectedAt time.Time

	ch   chan chunk
	done chan struct{}
}

func newListener(r *http.Request, buffer int) *listener {
	return &listener{
		id:          uuid.New().String(),
		remote:      r.RemoteAddr,
		userAgent:   r.UserAgent(),
		connectedAt: time.Now(),
		ch:          make(chan chunk, buffer),
		done:        make(chan struct{}),
	}
}

// streamWriter flushes every write to the client and moves the write
// deadline forward when the ResponseWriter allows it.
type streamWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger

	noDeadline bool
}

func newStreamWriter(w http.ResponseWriter, logger *slog.Logger) *streamWriter {
	return &streamWriter{w: w, rc: http.NewResponseController(w), logger: logger}
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if !sw.noDeadline {
		err := sw.rc.SetWriteDeadline(time.Now().Add(writeDeadline))
		switch {
		case errors.Is(err, http.ErrNotSupported):
			// Middleware that wraps the ResponseWriter hides the connection.
			sw.noDeadline = true
			sw.logger.Warn("cannot set write deadline on listener connection, the server write timeout applies")
		case err != nil:
			return 0, err
		}
	}

	n, err := sw.w.Write(p)
	metricBytesSent.Add(float64(n))
	if err != nil {
		return n, err
	}
	return n, sw.Flush()
}

func (sw *streamWriter) Flush() error {
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
