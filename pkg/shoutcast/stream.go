package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/zachfi/icystream/pkg/icy"
)

// maxPlaylistDepth bounds playlists that point at other playlists.
const maxPlaylistDepth = 3

const sniffSize = 512

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *icy.Metadata)

// Stream represents an open shoutcast stream.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// The description of the stream
	Description string

	// Homepage of the server
	URL string

	// Bitrate of the server
	Bitrate int

	// Content-Type of the audio
	ContentType string

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Amount of bytes to read before expecting a metadata block, 0 if the
	// stream carries no metadata
	metaint int

	// Stream metadata
	metadata *icy.Metadata
	encoding encoding.Encoding

	logger *slog.Logger

	// audio reads the stream with metadata removed
	audio io.Reader

	// The underlying data stream
	rc io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// Open establishes a connection to a remote server.
// It automatically handles playlist files (.pls, .m3u) and resolves them to stream URLs.
func Open(ctx context.Context, url string, cfg Config, logger *slog.Logger) (*Stream, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	client := newClient(cfg)

	for depth := 0; ; depth++ {
		logger.Info("opening stream", "url", url)

		resp, err := get(ctx, client, url, cfg.UserAgent)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %q from %s", resp.Status, url)
		}

		for k, v := range resp.Header {
			logger.Debug("HTTP header", "key", k, "value", v[0])
		}

		body := bufio.NewReaderSize(resp.Body, sniffSize)
		kind := notPlaylist
		if resp.Header.Get("icy-metaint") == "" {
			peek, _ := body.Peek(sniffSize)
			kind = detectPlaylist(url, resp.Header.Get("Content-Type"), peek)
		}

		if kind == notPlaylist {
			resp.Body = readCloser{Reader: body, Closer: resp.Body}
			return NewStream(resp, cfg, logger)
		}

		resolved, err := parsePlaylist(kind, body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve playlist URL: %w", err)
		}
		if depth+1 >= maxPlaylistDepth {
			return nil, fmt.Errorf("playlist nesting exceeds %d levels at %s", maxPlaylistDepth, url)
		}
		logger.Info("resolved playlist to stream URL", "url", resolved)
		url = resolved
	}
}

// NewStream reads a stream from an HTTP response. The response body is
// owned by the Stream. If the response has an icy-metaint header the
// metadata is stripped from the body.
func NewStream(resp *http.Response, cfg Config, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		bitrate int
		err     error
	)
	if rawBitrate := resp.Header.Get("icy-br"); rawBitrate != "" {
		bitrate, err = strconv.Atoi(rawBitrate)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse bitrate: %w", err)
		}
	}

	enc, err := icy.LookupEncoding(cfg.Charset)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	s := &Stream{
		Name:        resp.Header.Get("icy-name"),
		Genre:       resp.Header.Get("icy-genre"),
		Description: resp.Header.Get("icy-description"),
		URL:         resp.Header.Get("icy-url"),
		Bitrate:     bitrate,
		ContentType: resp.Header.Get("Content-Type"),
		encoding:    enc,
		logger:      logger,
		audio:       resp.Body,
		rc:          resp.Body,
	}

	if rawMetaint := resp.Header.Get("icy-metaint"); rawMetaint != "" {
		s.metaint, err = icy.ParseMetaint(rawMetaint)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cannot parse metaint: %w", err)
		}
		s.audio, err = icy.NewReader(resp.Body, s.metaint,
			icy.WithMetadataHandler(s.onMetadata),
			icy.WithLogger(logger),
		)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
	} else {
		logger.Info("stream has no icy-metaint, metadata disabled")
	}

	return s, nil
}

func (s *Stream) onMetadata(raw []byte) {
	m, err := icy.ParseEncoded(raw, s.encoding)
	if err != nil {
		s.logger.Warn("dropping undecodable metadata", "err", err)
		return
	}
	if m.Equal(s.metadata) {
		return
	}
	s.metadata = m
	if s.MetadataCallbackFunc != nil {
		s.MetadataCallbackFunc(m)
	}
}

// Read implements the standard Read interface. Only audio bytes are returned.
func (s *Stream) Read(buf []byte) (int, error) {
	return s.audio.Read(buf)
}

// Metaint returns the metadata interval, or 0 for a stream without metadata.
func (s *Stream) Metaint() int {
	return s.metaint
}

// Metadata returns the most recent metadata, or nil.
func (s *Stream) Metadata() *icy.Metadata {
	return s.metadata
}

// Close closes the stream. It is safe to call more than once, and from
// another goroutine to unblock a pending Read.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing stream", "name", s.Name)
		s.closeErr = s.rc.Close()
	})
	return s.closeErr
}

func newClient(cfg Config) *http.Client {
	// Timeout for establishing the connection.
	// We don't want for the stream to timeout while we're reading it, but
	// we do want a timeout for establishing the connection to the server.
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialICY(dialer),
		DialTLSContext:        dialICYTLS(dialer, nil),
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DisableKeepAlives:     true,
	}
	// No timeout on the client - we want to stream indefinitely
	return &http.Client{Transport: transport}
}

func get(ctx context.Context, client *http.Client, url, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)
	req.Header.Add("icy-metadata", "1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return resp, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
