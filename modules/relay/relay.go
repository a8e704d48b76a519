package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/icystream/pkg/icy"
	"github.com/zachfi/icystream/pkg/shoutcast"
)

const (
	module = "relay"

	adminUser          = "admin"
	defaultContentType = "audio/mpeg"
	readBufferSize     = 16 * 1024
)

var (
	errStreamEnded      = errors.New("upstream ended")
	errTooManyListeners = errors.New("listener limit reached")
)

// upstreamInfo describes the stream currently being relayed.
type upstreamInfo struct {
	Name        string
	Genre       string
	URL         string
	Bitrate     int
	ContentType string
}

// Relay reads one upstream stream and serves it to any number of HTTP
// listeners. Listeners that ask for metadata get it injected every
// Config.Metaint bytes, the rest get plain audio.
type Relay struct {
	services.Service
	cfg    *Config
	logger *slog.Logger
	tracer trace.Tracer

	nowPlaying *NowPlaying

	mu        sync.Mutex
	listeners map[string]*listener
	upstream  upstreamInfo
}

// New creates and returns a new Relay.
func New(cfg Config, logger slog.Logger) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	r := &Relay{
		cfg:        &cfg,
		logger:     logger.With("module", module),
		tracer:     otel.Tracer(module),
		nowPlaying: &NowPlaying{},
		listeners:  make(map[string]*listener),
		upstream:   upstreamInfo{ContentType: defaultContentType},
	}

	r.Service = services.NewBasicService(nil, r.running, r.stopping)

	return r, nil
}

// RegisterHandlers adds the listener, status and admin endpoints to router.
func (r *Relay) RegisterHandlers(router *mux.Router) {
	router.HandleFunc(r.cfg.Path, r.serveStream).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/metadata", r.serveMetadata).Methods(http.MethodGet)
	router.HandleFunc("/admin/metadata", r.serveAdminMetadata).Methods(http.MethodGet)
}

// NowPlaying returns the metadata sent to listeners.
func (r *Relay) NowPlaying() *NowPlaying {
	return r.nowPlaying
}

func (r *Relay) running(ctx context.Context) error {
	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: r.cfg.ReconnectBackoff,
		MaxBackoff: r.cfg.ReconnectBackoffMax,
	})

	for boff.Ongoing() {
		err := r.relay(ctx, boff)
		if ctx.Err() != nil {
			return nil
		}

		metricReconnects.Inc()
		r.logger.Warn("upstream disconnected, reconnecting", "err", err, "retries", boff.NumRetries(), "delay", boff.NextDelay())
		boff.Wait()
	}

	return nil
}

// relay copies one connection of the upstream to the listeners until it
// fails or ctx is done.
func (r *Relay) relay(ctx context.Context, boff *backoff.Backoff) error {
	connectCtx, span := r.tracer.Start(ctx, "Relay.connect")
	stream, err := shoutcast.Open(connectCtx, r.cfg.UpstreamURL, r.cfg.Stream, r.logger)
	if err != nil {
		r.logger.Error("error opening upstream", "err", err, "url", r.cfg.UpstreamURL)
		span.RecordError(err)
		span.SetStatus(codes.Error, "error opening upstream")
		span.End()
		return err
	}
	span.End()
	defer stream.Close()
	boff.Reset()

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	r.setUpstream(stream)
	stream.MetadataCallbackFunc = func(m *icy.Metadata) {
		r.publish(m, "upstream")
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			metricBytesReceived.Add(float64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			r.broadcast(chunk{data: data})
		}
		if errors.Is(err, io.EOF) {
			return errStreamEnded
		}
		if err != nil {
			return err
		}
	}
}

func (r *Relay) setUpstream(s *shoutcast.Stream) {
	info := upstreamInfo{
		Name:        s.Name,
		Genre:       s.Genre,
		URL:         s.URL,
		Bitrate:     s.Bitrate,
		ContentType: s.ContentType,
	}
	if info.ContentType == "" {
		info.ContentType = defaultContentType
	}

	r.mu.Lock()
	r.upstream = info
	r.mu.Unlock()
}

// publish makes m the now playing metadata and sends it to every listener.
func (r *Relay) publish(m *icy.Metadata, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.nowPlaying.Set(m) {
		return
	}
	metricMetadataUpdates.WithLabelValues(source).Inc()
	r.logger.Info("now playing", "title", m.StreamTitle(), "source", source)
	r.broadcastLocked(chunk{metadata: m})
}

func (r *Relay) broadcast(c chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(c)
}

// broadcastLocked never blocks. A listener whose queue is full is dropped.
func (r *Relay) broadcastLocked(c chunk) {
	for _, l := range r.listeners {
		select {
		case l.ch <- c:
		default:
			metricEvictions.Inc()
			r.logger.Warn("listener too slow, disconnecting", "listener", l.id, "remote", l.remote)
			r.dropLocked(l)
		}
	}
}

// addListener registers a listener and returns it with the current now
// playing metadata. Both are taken under one lock so no change is missed.
func (r *Relay) addListener(req *http.Request) (*listener, *icy.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxListeners > 0 && len(r.listeners) >= r.cfg.MaxListeners {
		return nil, nil, errTooManyListeners
	}

	l := newListener(req, r.cfg.ListenerBuffer)
	r.listeners[l.id] = l
	metricListeners.Inc()
	return l, r.nowPlaying.Get(), nil
}

func (r *Relay) removeListener(l *listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(l)
}

func (r *Relay) dropLocked(l *listener) {
	if _, ok := r.listeners[l.id]; !ok {
		return
	}
	delete(r.listeners, l.id)
	close(l.done)
	metricListeners.Dec()
}

func (r *Relay) listenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *Relay) setHeaders(w http.ResponseWriter, metaint int) {
	r.mu.Lock()
	info := r.upstream
	r.mu.Unlock()

	name := r.cfg.Name
	if name == "" {
		name = info.Name
	}

	h := w.Header()
	h.Set("Content-Type", info.ContentType)
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Pragma", "no-cache")
	if name != "" {
		h.Set("icy-name", name)
	}
	if info.Genre != "" {
		h.Set("icy-genre", info.Genre)
	}
	if info.URL != "" {
		h.Set("icy-url", info.URL)
	}
	if info.Bitrate > 0 {
		h.Set("icy-br", strconv.Itoa(info.Bitrate))
	}
	if metaint > 0 {
		h.Set("icy-metaint", strconv.Itoa(metaint))
	}
}

func (r *Relay) serveStream(w http.ResponseWriter, req *http.Request) {
	metaint := 0
	if req.Header.Get("Icy-MetaData") == "1" {
		metaint = r.cfg.Metaint
	}

	if req.Method == http.MethodHead {
		r.setHeaders(w, metaint)
		w.WriteHeader(http.StatusOK)
		return
	}

	l, current, err := r.addListener(req)
	if err != nil {
		http.Error(w, "Listener limit reached", http.StatusServiceUnavailable)
		return
	}
	defer r.removeListener(l)

	logger := r.logger.With("listener", l.id, "remote", l.remote)
	logger.Info("listener connected", "user_agent", l.userAgent, "metadata", metaint > 0)
	defer func() {
		logger.Info("listener disconnected", "duration", time.Since(l.connectedAt).Round(time.Second))
	}()

	r.setHeaders(w, metaint)
	w.WriteHeader(http.StatusOK)

	sw := newStreamWriter(w, logger)
	if err := sw.Flush(); err != nil {
		return
	}

	var (
		out io.Writer = sw
		iw  *icy.Writer
	)
	if metaint > 0 {
		iw, err = icy.NewWriter(sw, metaint, icy.WithLogger(logger))
		if err != nil {
			logger.Error("error creating metadata writer", "err", err)
			return
		}
		out = iw
		queueMetadata(iw, current, logger)
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case <-l.done:
			return
		case c := <-l.ch:
			if c.metadata != nil {
				if iw != nil {
					queueMetadata(iw, c.metadata, logger)
				}
				continue
			}
			if _, err := out.Write(c.data); err != nil {
				logger.Debug("error writing to listener", "err", err)
				return
			}
		}
	}
}

func queueMetadata(w *icy.Writer, m *icy.Metadata, logger *slog.Logger) {
	if m == nil {
		return
	}
	if err := w.QueueMetadata(m); err != nil {
		logger.Warn("not sending metadata", "err", err, "title", m.StreamTitle())
	}
}

type nowPlayingResponse struct {
	Name        string            `json:"name,omitempty"`
	ContentType string            `json:"content_type"`
	Bitrate     int               `json:"bitrate,omitempty"`
	Title       string            `json:"title"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	Listeners   int               `json:"listeners"`
}

func (r *Relay) serveMetadata(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	info := r.upstream
	listeners := len(r.listeners)
	r.mu.Unlock()

	m := r.nowPlaying.Get()
	resp := nowPlayingResponse{
		Name:        info.Name,
		ContentType: info.ContentType,
		Bitrate:     info.Bitrate,
		Title:       m.StreamTitle(),
		Listeners:   listeners,
	}
	if r.cfg.Name != "" {
		resp.Name = r.cfg.Name
	}
	if m != nil {
		resp.Metadata = m.Map()
		updated := r.nowPlaying.UpdatedAt()
		resp.UpdatedAt = &updated
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.logger.Error("error encoding now playing", "err", err)
	}
}

// serveAdminMetadata implements the Icecast metadata update call,
// /admin/metadata?mode=updinfo&song=Title.
func (r *Relay) serveAdminMetadata(w http.ResponseWriter, req *http.Request) {
	if r.cfg.AdminPassword != "" {
		user, pass, ok := req.BasicAuth()
		if !ok || user != adminUser || subtle.ConstantTimeCompare([]byte(pass), []byte(r.cfg.AdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="icystream"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	q := req.URL.Query()
	if q.Get("mode") != "updinfo" {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return
	}
	song := q.Get("song")
	if song == "" {
		song = q.Get("title")
	}
	if song == "" {
		http.Error(w, "Missing song", http.StatusBadRequest)
		return
	}

	m := icy.Title(song)
	if _, err := icy.EncodeBlock(m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.publish(m, "admin")

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, "<?xml version=\"1.0\"?>\n<iceresponse><message>Metadata update successful</message><return>1</return></iceresponse>\n")
}

func (r *Relay) stopping(_ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.listeners {
		r.dropLocked(l)
	}
	r.logger.Info("stopping")
	return nil
}
