package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/icystream/pkg/icy"
)

func testLogger() slog.Logger {
	return *slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, cfg Config) (*Relay, *mux.Router) {
	t.Helper()
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = "http://127.0.0.1:1/stream"
	}
	r, err := New(cfg, testLogger())
	require.NoError(t, err)

	router := mux.NewRouter()
	r.RegisterHandlers(router)
	return r, router
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"missing upstream": {cfg: Config{}, wantErr: true},
		"relative path":    {cfg: Config{UpstreamURL: "http://x", Path: "stream"}, wantErr: true},
		"negative metaint": {cfg: Config{UpstreamURL: "http://x", Metaint: -1}, wantErr: true},
		"negative limit":   {cfg: Config{UpstreamURL: "http://x", MaxListeners: -1}, wantErr: true},
		"backoff order":    {cfg: Config{UpstreamURL: "http://x", ReconnectBackoff: time.Minute, ReconnectBackoffMax: time.Second}, wantErr: true},
		"defaults":         {cfg: Config{UpstreamURL: "http://x"}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	assert.Equal(t, defaultPath, r.cfg.Path)
	assert.Equal(t, defaultMetaint, r.cfg.Metaint)
	assert.Equal(t, defaultListenerBuffer, r.cfg.ListenerBuffer)
}

func TestNowPlaying(t *testing.T) {
	var n NowPlaying
	assert.Nil(t, n.Get())
	assert.True(t, n.UpdatedAt().IsZero())

	assert.True(t, n.Set(icy.Title("A")))
	assert.False(t, n.Set(icy.Title("A")))
	assert.True(t, n.Set(icy.Title("B")))
	assert.Equal(t, "B", n.Get().StreamTitle())
	assert.False(t, n.UpdatedAt().IsZero())
}

func TestRelay_EvictsSlowListener(t *testing.T) {
	r, _ := newTestRelay(t, Config{ListenerBuffer: 1})

	l, current, err := r.addListener(httptest.NewRequest(http.MethodGet, "/stream", nil))
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Equal(t, 1, r.listenerCount())

	r.broadcast(chunk{data: []byte("one")})
	select {
	case <-l.done:
		t.Fatal("listener dropped with room in its queue")
	default:
	}

	r.broadcast(chunk{data: []byte("two")})
	select {
	case <-l.done:
	default:
		t.Fatal("listener was not dropped")
	}
	assert.Equal(t, 0, r.listenerCount())

	// Removing an evicted listener is a no-op.
	r.removeListener(l)
	assert.Equal(t, 0, r.listenerCount())
}

func TestRelay_ListenerGetsCurrentMetadata(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	r.publish(icy.Title("Current"), "upstream")

	l, current, err := r.addListener(httptest.NewRequest(http.MethodGet, "/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, "Current", current.StreamTitle())

	r.publish(icy.Title("Current"), "upstream")
	assert.Empty(t, l.ch, "unchanged metadata is not sent again")

	r.publish(icy.Title("Next"), "upstream")
	require.Len(t, l.ch, 1)
	c := <-l.ch
	assert.Equal(t, "Next", c.metadata.StreamTitle())
}

func TestRelay_MaxListeners(t *testing.T) {
	r, router := newTestRelay(t, Config{MaxListeners: 1})

	_, _, err := r.addListener(httptest.NewRequest(http.MethodGet, "/stream", nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRelay_Head(t *testing.T) {
	_, router := newTestRelay(t, Config{Name: "Relay FM", Metaint: 8192})

	req := httptest.NewRequest(http.MethodHead, "/stream", nil)
	req.Header.Set("Icy-MetaData", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8192", rec.Header().Get("icy-metaint"))
	assert.Equal(t, "Relay FM", rec.Header().Get("icy-name"))
	assert.Equal(t, defaultContentType, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/stream", nil))
	assert.Empty(t, rec.Header().Get("icy-metaint"))
}

func TestRelay_AdminMetadata(t *testing.T) {
	r, router := newTestRelay(t, Config{AdminPassword: "hackme"})

	tests := map[string]struct {
		query    string
		user     string
		password string
		want     int
	}{
		"no auth":      {query: "mode=updinfo&song=x", want: http.StatusUnauthorized},
		"bad password": {query: "mode=updinfo&song=x", user: "admin", password: "nope", want: http.StatusUnauthorized},
		"bad mode":     {query: "mode=stats&song=x", user: "admin", password: "hackme", want: http.StatusBadRequest},
		"no song":      {query: "mode=updinfo", user: "admin", password: "hackme", want: http.StatusBadRequest},
		"too long":     {query: "mode=updinfo&song=" + string(bytes.Repeat([]byte("x"), icy.MaxPayload)), user: "admin", password: "hackme", want: http.StatusBadRequest},
		"ok":           {query: "mode=updinfo&song=Live+Set", user: "admin", password: "hackme", want: http.StatusOK},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/metadata?"+tt.query, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, "Live Set", r.NowPlaying().Get().StreamTitle())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metadata", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp nowPlayingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Live Set", resp.Title)
	assert.Equal(t, map[string]string{icy.StreamTitle: "Live Set"}, resp.Metadata)
	assert.NotNil(t, resp.UpdatedAt)
	assert.Equal(t, 0, resp.Listeners)
}

func TestRelay_MetadataBeforeAnyTitle(t *testing.T) {
	_, router := newTestRelay(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metadata", nil))

	var resp nowPlayingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Title)
	assert.Nil(t, resp.Metadata)
	assert.Nil(t, resp.UpdatedAt)
}

// upstream serves an endless ICY stream of 'x' bytes titled title.
func upstream(t *testing.T, metaint int, title string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("icy-name", "Upstream FM")
		w.Header().Set("icy-metaint", strconv.Itoa(metaint))

		iw, err := icy.NewWriter(w, metaint)
		if err != nil {
			return
		}
		_ = iw.Queue(title)
		window := bytes.Repeat([]byte("x"), metaint)
		rc := http.NewResponseController(w)
		for {
			if _, err := iw.Write(window); err != nil {
				return
			}
			_ = rc.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
}

func TestRelay_EndToEnd(t *testing.T) {
	up := upstream(t, 64, "Upstream Song")
	defer up.Close()

	r, router := newTestRelay(t, Config{
		UpstreamURL:         up.URL,
		Metaint:             100,
		ReconnectBackoff:    10 * time.Millisecond,
		ReconnectBackoffMax: 10 * time.Millisecond,
	})
	front := httptest.NewServer(router)
	defer front.Close()

	ctx := context.Background()
	require.NoError(t, services.StartAndAwaitRunning(ctx, r))
	defer func() {
		require.NoError(t, services.StopAndAwaitTerminated(ctx, r))
	}()

	// Wait for the upstream so listeners see its headers.
	require.Eventually(t, func() bool {
		return r.NowPlaying().Get().StreamTitle() == "Upstream Song"
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("metadata listener", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, front.URL+"/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Icy-MetaData", "1")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Upstream FM", resp.Header.Get("icy-name"))
		metaint, err := icy.ParseMetaint(resp.Header.Get("icy-metaint"))
		require.NoError(t, err)
		require.Equal(t, 100, metaint)

		titles := make(chan string, 16)
		reader, err := icy.NewReader(resp.Body, metaint, icy.WithMetadataHandler(func(raw []byte) {
			if m := icy.Parse(raw); m.StreamTitle() != "" {
				select {
				case titles <- m.StreamTitle():
				default:
				}
			}
		}))
		require.NoError(t, err)

		audio := make([]byte, 1000)
		_, err = io.ReadFull(reader, audio)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte("x"), len(audio)), audio)

		select {
		case title := <-titles:
			assert.Equal(t, "Upstream Song", title)
		case <-time.After(5 * time.Second):
			t.Fatal("no metadata received")
		}
	})

	t.Run("plain listener", func(t *testing.T) {
		resp, err := http.Get(front.URL + "/stream")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Empty(t, resp.Header.Get("icy-metaint"))

		audio := make([]byte, 1000)
		_, err = io.ReadFull(resp.Body, audio)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte("x"), len(audio)), audio)
	})
}

func TestStreamWriter_WarnsWithoutDeadline(t *testing.T) {
	var logs bytes.Buffer
	rec := httptest.NewRecorder()
	sw := newStreamWriter(rec, slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := sw.Write([]byte("one"))
	require.NoError(t, err)
	_, err = sw.Write([]byte("two"))
	require.NoError(t, err)

	assert.Equal(t, "onetwo", rec.Body.String())
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("cannot set write deadline")))
}
