package shoutcast

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultUserAgent             = "iTunes/12.9.2 (Macintosh; OS X 10.14.3) AppleWebKit/606.4.5"
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
)

type Config struct {
	UserAgent             string        `yaml:"user-agent,omitempty"`
	Charset               string        `yaml:"charset,omitempty"`                 // metadata charset when the server does not send UTF-8
	DialTimeout           time.Duration `yaml:"dial-timeout,omitempty"`            // timeout for establishing the connection
	ResponseHeaderTimeout time.Duration `yaml:"response-header-timeout,omitempty"` // timeout for the response headers, the body is never timed out
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), defaultUserAgent, "User-Agent sent to the stream server.")
	f.StringVar(&cfg.Charset, util.PrefixConfig(prefix, "charset"), "", "Charset of the stream metadata, eg: ISO-8859-1. Empty means UTF-8.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), defaultDialTimeout, "Timeout for connecting to the stream server.")
	f.DurationVar(&cfg.ResponseHeaderTimeout, util.PrefixConfig(prefix, "response-header-timeout"), defaultResponseHeaderTimeout,
		"Timeout for receiving the response headers. Reading the stream itself never times out.")
}

func (cfg *Config) applyDefaults() {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
}
