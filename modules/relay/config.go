package relay

import (
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/icystream/pkg/shoutcast"
)

const (
	defaultPath             = "/stream"
	defaultMetaint          = 16000
	defaultListenerBuffer   = 256
	defaultReconnectInitial = 5 * time.Second
	defaultReconnectMax     = 60 * time.Second
)

type Config struct {
	UpstreamURL         string           `yaml:"upstream-url,omitempty"`
	Path                string           `yaml:"path,omitempty"`
	Name                string           `yaml:"name,omitempty"`                  // icy-name sent to listeners, defaults to the upstream name
	Metaint             int              `yaml:"metaint,omitempty"`               // audio bytes between metadata blocks sent to listeners
	MaxListeners        int              `yaml:"max-listeners,omitempty"`         // 0 means no limit
	ListenerBuffer      int              `yaml:"listener-buffer,omitempty"`       // chunks queued per listener before it is dropped
	AdminPassword       string           `yaml:"admin-password,omitempty"`        // required by /admin/metadata when set
	ReconnectBackoff    time.Duration    `yaml:"reconnect-backoff,omitempty"`     // initial delay before reconnecting to the upstream
	ReconnectBackoffMax time.Duration    `yaml:"reconnect-backoff-max,omitempty"` // cap on reconnect delay
	Stream              shoutcast.Config `yaml:"stream,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.UpstreamURL, util.PrefixConfig(prefix, "upstream-url"), "", "The URL of the stream to relay")
	f.StringVar(&cfg.Path, util.PrefixConfig(prefix, "path"), defaultPath, "The HTTP path listeners connect to")
	f.StringVar(&cfg.Name, util.PrefixConfig(prefix, "name"), "", "Station name sent to listeners. Defaults to the upstream icy-name.")
	f.IntVar(&cfg.Metaint, util.PrefixConfig(prefix, "metaint"), defaultMetaint, "Audio bytes between metadata blocks for listeners that request metadata")
	f.IntVar(&cfg.MaxListeners, util.PrefixConfig(prefix, "max-listeners"), 0, "Maximum concurrent listeners, 0 for no limit")
	f.IntVar(&cfg.ListenerBuffer, util.PrefixConfig(prefix, "listener-buffer"), defaultListenerBuffer,
		"Chunks queued for a listener before it is considered too slow and disconnected")
	f.StringVar(&cfg.AdminPassword, util.PrefixConfig(prefix, "admin-password"), "", "Password for the admin metadata endpoint, user admin")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectInitial,
		"Initial delay before reconnecting to the upstream.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectMax,
		"Maximum delay between upstream reconnection attempts.")
	cfg.Stream.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "stream"), f)
}

func (cfg *Config) Validate() error {
	if cfg.UpstreamURL == "" {
		return errors.New("relay: upstream-url is required")
	}
	if cfg.Path != "" && !strings.HasPrefix(cfg.Path, "/") {
		return errors.New("relay: path must start with /")
	}
	if cfg.Metaint < 0 {
		return errors.New("relay: metaint must be positive")
	}
	if cfg.MaxListeners < 0 {
		return errors.New("relay: max-listeners must not be negative")
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectBackoff {
		return errors.New("relay: reconnect-backoff-max must not be lower than reconnect-backoff")
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Metaint == 0 {
		cfg.Metaint = defaultMetaint
	}
	if cfg.ListenerBuffer <= 0 {
		cfg.ListenerBuffer = defaultListenerBuffer
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = defaultReconnectInitial
	}
	if cfg.ReconnectBackoffMax == 0 {
		cfg.ReconnectBackoffMax = defaultReconnectMax
	}
}
