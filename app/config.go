package app

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/icystream/modules/relay"
	"github.com/zachfi/icystream/modules/ripper"
)

type Config struct {
	Target  string         `yaml:"target"`
	Tracing tracing.Config `yaml:"tracing,omitempty"`
	Server  server.Config  `yaml:"server,omitempty"`
	Ripper  ripper.Config  `yaml:"ripper,omitempty"`
	Relay   relay.Config   `yaml:"relay,omitempty"`
}

// LoadConfig receives a file path for a configuration to load.
func LoadConfig(file string) (Config, error) {
	filename, _ := filepath.Abs(file)

	config := Config{}
	err := loadYamlFile(filename, &config)
	if err != nil {
		return config, errors.Wrap(err, "failed to load yaml file")
	}

	return config, nil
}

// loadYamlFile unmarshals a YAML file into the received interface{} or returns an error.
func loadYamlFile(filename string, d interface{}) error {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	err = yaml.Unmarshal(yamlFile, d)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	flagext.DefaultValues(&c.Server)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3030, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9090, "gRPC server listen port.")

	f.StringVar(&c.Target, "target", All, "Module to run: ripper, relay or all. all runs each module that has a stream URL configured.")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Ripper.RegisterFlagsAndApplyDefaults("ripper", f)
	c.Relay.RegisterFlagsAndApplyDefaults("relay", f)
}

// Validate checks the configuration of every module the target runs.
func (c *Config) Validate() error {
	mods := c.targetModules()
	if mods == nil {
		return errors.Errorf("unknown target %q", c.Target)
	}

	for _, m := range mods {
		var err error
		switch m {
		case Ripper:
			err = c.Ripper.Validate()
		case Relay:
			err = c.Relay.Validate()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// targetModules returns the modules the target runs, or nil for an unknown
// target.
func (c *Config) targetModules() []string {
	switch c.Target {
	case Ripper:
		return []string{Ripper}
	case Relay:
		return []string{Relay}
	case All, "":
		return c.allModules()
	default:
		return nil
	}
}

// allModules is what the all target runs: the modules that have a stream
// URL configured, or every module when none has one so that validation
// names what is missing.
func (c *Config) allModules() []string {
	var mods []string
	if c.Ripper.URL != "" {
		mods = append(mods, Ripper)
	}
	if c.Relay.UpstreamURL != "" {
		mods = append(mods, Relay)
	}
	if len(mods) == 0 {
		return []string{Ripper, Relay}
	}
	return mods
}

// clearStreamWriteTimeout disables the HTTP server write timeout when the
// relay runs. Listener responses last as long as the listener stays, and the
// server's instrumentation middleware hides the connection from the relay,
// so the deadline cannot be moved per write. It reports whether it changed
// the config.
func (c *Config) clearStreamWriteTimeout() bool {
	if !c.runsModule(Relay) || c.Server.HTTPServerWriteTimeout == 0 {
		return false
	}
	c.Server.HTTPServerWriteTimeout = 0
	return true
}

// runsModule reports whether the target runs module m.
func (c *Config) runsModule(m string) bool {
	for _, t := range c.targetModules() {
		if t == m {
			return true
		}
	}
	return false
}
