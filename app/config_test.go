package app

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/icystream/modules/relay"
)

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "icystream.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
target: relay
relay:
  upstream-url: http://radio.example.com/live
  path: /live
  metaint: 8192
  max-listeners: 50
  stream:
    charset: iso-8859-1
ripper:
  url: http://radio.example.com/live
  dir: /srv/music
  reconnect-backoff: 2s
`), 0o644))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, Relay, cfg.Target)
	assert.Equal(t, "/live", cfg.Relay.Path)
	assert.Equal(t, 8192, cfg.Relay.Metaint)
	assert.Equal(t, 50, cfg.Relay.MaxListeners)
	assert.Equal(t, "iso-8859-1", cfg.Relay.Stream.Charset)
	assert.Equal(t, "/srv/music", cfg.Ripper.Dir)
	assert.Equal(t, 2*time.Second, cfg.Ripper.ReconnectBackoff)
	assert.NoError(t, cfg.Validate())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.PanicOnError))

	assert.Equal(t, All, cfg.Target)
	assert.Equal(t, 3030, cfg.Server.HTTPListenPort)
	assert.Equal(t, "/stream", cfg.Relay.Path)
	assert.Equal(t, 16000, cfg.Relay.Metaint)
	assert.Equal(t, 256*1024, cfg.Ripper.WriteBufferSize)
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"ripper only": {
			cfg: Config{Target: Ripper, Ripper: ripperConfig("http://a")},
		},
		"relay missing upstream": {
			cfg:     Config{Target: Relay},
			wantErr: true,
		},
		"all with only a ripper url": {
			cfg: Config{Target: All, Ripper: ripperConfig("http://a")},
		},
		"all with only a relay url": {
			cfg: Config{Target: All, Relay: relay.Config{UpstreamURL: "http://a"}},
		},
		"all checks configured modules": {
			cfg:     Config{Target: All, Ripper: ripperConfig("http://a"), Relay: relay.Config{UpstreamURL: "http://a", Path: "bad"}},
			wantErr: true,
		},
		"empty target means all": {
			cfg:     Config{},
			wantErr: true,
		},
		"unknown target": {
			cfg:     Config{Target: "transcoder"},
			wantErr: true,
		},
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

func TestTargetModules(t *testing.T) {
	tests := map[string]struct {
		cfg  Config
		want []string
	}{
		"ripper":         {cfg: Config{Target: Ripper}, want: []string{Ripper}},
		"relay":          {cfg: Config{Target: Relay}, want: []string{Relay}},
		"all unset":      {cfg: Config{Target: All}, want: []string{Ripper, Relay}},
		"all ripper url": {cfg: Config{Target: All, Ripper: ripperConfig("http://a")}, want: []string{Ripper}},
		"all relay url":  {cfg: Config{Relay: relay.Config{UpstreamURL: "http://a"}}, want: []string{Relay}},
		"all both urls":  {cfg: Config{Ripper: ripperConfig("http://a"), Relay: relay.Config{UpstreamURL: "http://b"}}, want: []string{Ripper, Relay}},
		"unknown":        {cfg: Config{Target: "transcoder"}, want: nil},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.targetModules())
		})
	}
}

func TestNew(t *testing.T) {
	a, err := New(Config{}, *testLogger())
	require.NoError(t, err)
	assert.Equal(t, All, a.cfg.Target)
	assert.NotNil(t, a.ModuleManager)
}
