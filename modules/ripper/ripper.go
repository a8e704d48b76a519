package ripper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/icystream/pkg/icy"
	"github.com/zachfi/icystream/pkg/shoutcast"
)

const module = "ripper"

// errStreamEnded is returned when the server closes the stream cleanly.
var errStreamEnded = errors.New("stream ended")

// Ripper records a stream into one file per track. The track title comes from
// the stream metadata and each file is committed when the next track starts.
type Ripper struct {
	services.Service
	cfg    *Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates and returns a new Ripper.
func New(cfg Config, logger slog.Logger) (*Ripper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = defaultReconnectInitial
	}
	if cfg.ReconnectBackoffMax == 0 {
		cfg.ReconnectBackoffMax = defaultReconnectMax
	}

	r := &Ripper{
		cfg:    &cfg,
		logger: logger.With("module", module),
		tracer: otel.Tracer(module),
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Ripper) starting(_ context.Context) error {
	if r.cfg.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(r.cfg.Dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "error creating output directory")
	}
	return nil
}

func (r *Ripper) running(ctx context.Context) error {
	cw := NewChannelWriter()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		newTrackWriter(r.cfg.WriteBufferSize, r.logger).run(cw.dataChan)
	}()

	defer func() {
		_ = cw.Close()
		<-writerDone
	}()

	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: r.cfg.ReconnectBackoff,
		MaxBackoff: r.cfg.ReconnectBackoffMax,
	})

	for boff.Ongoing() {
		err := r.rip(ctx, cw, boff)
		if ctx.Err() != nil {
			return nil
		}

		metricReconnects.Inc()
		r.logger.Warn("stream disconnected, reconnecting", "err", err, "retries", boff.NumRetries(), "delay", boff.NextDelay())
		boff.Wait()
	}

	return nil
}

// rip copies one connection of the stream into cw until it fails or ctx is
// done.
func (r *Ripper) rip(ctx context.Context, cw *ChannelWriter, boff *backoff.Backoff) error {
	connectCtx, span := r.tracer.Start(ctx, "Ripper.connect")
	stream, err := shoutcast.Open(connectCtx, r.cfg.URL, r.cfg.Stream, r.logger)
	if err != nil {
		r.logger.Error("error opening stream", "err", err, "url", r.cfg.URL)
		span.RecordError(err)
		span.SetStatus(codes.Error, "error opening stream")
		span.End()
		return err
	}
	span.End()
	defer stream.Close()
	boff.Reset()

	// Closing the stream unblocks the copy below.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	if stream.Metaint() == 0 {
		r.logger.Warn("stream has no metadata, recording a single file", "url", r.cfg.URL)
		if err := r.startTrack(cw, stream, icy.Title("stream")); err != nil {
			return err
		}
	}

	stream.MetadataCallbackFunc = func(m *icy.Metadata) {
		r.logger.Info("now listening to", "title", m.StreamTitle())
		if err := r.startTrack(cw, stream, m); err != nil {
			r.logger.Error("error starting track", "err", err)
		}
	}

	r.logger.Info("starting copy")
	b, err := io.Copy(cw, stream)
	r.logger.Info("copy finished", "read", byteCountIEC(b))
	if err != nil {
		return err
	}
	return errStreamEnded
}

func (r *Ripper) startTrack(cw *ChannelWriter, stream *shoutcast.Stream, m *icy.Metadata) error {
	metricTracks.Inc()
	return cw.StartTrack(r.trackPath(stream.Name, m.StreamTitle(), stream.ContentType))
}

// trackPath returns the file a track is recorded to.
func (r *Ripper) trackPath(streamName, title, contentType string) string {
	name := sanitizeName(title) + extension(contentType)
	return path.Join(r.cfg.Dir, sanitizeName(streamName), name)
}

// sanitizeName makes a stream or track title usable as one path element.
func sanitizeName(s string) string {
	s = strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', 0:
			return '_'
		}
		return c
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

func extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "aac"):
		return ".aac"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	case strings.Contains(contentType, "flac"):
		return ".flac"
	default:
		return ".mp3"
	}
}

func (r *Ripper) stopping(_ error) error {
	r.logger.Info("stopping")
	return nil
}

// byteCountIEC formats a byte count with binary prefixes.
func byteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
