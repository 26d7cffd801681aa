package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultEtcdEndpoint = "http://localhost:2379"
	DefaultEtcdPrefix   = "/ospfnbd"
	DefaultEtcdTimeout  = 5 * time.Second
	DefaultSPFDelay     = 200 * time.Millisecond
	DefaultASBRDelay    = 5 * time.Second
	DefaultMetricsAddr  = "127.0.0.1:9520"
)

const (
	InterfaceSourceSystem = "system"
	InterfaceSourceStatic = "static"
)

// Duration reads durations such as "200ms" from TOML strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type EtcdConfig struct {
	Endpoints []string `toml:"endpoints,omitempty"`
	Prefix    string   `toml:"prefix,omitempty"`
	Timeout   Duration `toml:"timeout,omitempty"`
}

type Configuration struct {
	Node            string          `toml:"node,omitempty"`
	Instance        uint16          `toml:"instance"`
	VRF             string          `toml:"vrf,omitempty"`
	LogLevel        string          `toml:"log_level,omitempty"`
	MetricsAddr     string          `toml:"metrics_addr,omitempty"`
	SPFDelay        Duration        `toml:"spf_delay,omitempty"`
	ASBRDelay       Duration        `toml:"asbr_delay,omitempty"`
	Etcd            EtcdConfig      `toml:"etcd,omitempty"`
	InterfaceSource string          `toml:"interface_source,omitempty"`
	Interfaces      []InterfaceInfo `toml:"interface,omitempty"`
}

func (c *Configuration) InitDefaults() {
	if c.Node == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Node = hostname
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = zerolog.InfoLevel.String()
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.SPFDelay.Duration == 0 {
		c.SPFDelay.Duration = DefaultSPFDelay
	}
	if c.ASBRDelay.Duration == 0 {
		c.ASBRDelay.Duration = DefaultASBRDelay
	}
	if len(c.Etcd.Endpoints) == 0 {
		c.Etcd.Endpoints = []string{DefaultEtcdEndpoint}
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = DefaultEtcdPrefix
	}
	if c.Etcd.Timeout.Duration == 0 {
		c.Etcd.Timeout.Duration = DefaultEtcdTimeout
	}
	if c.InterfaceSource == "" {
		c.InterfaceSource = InterfaceSourceSystem
	}
}

func (c *Configuration) Validate() error {
	if c.Node == "" {
		return errors.New("node name must be set")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	if c.SPFDelay.Duration < 0 || c.ASBRDelay.Duration < 0 {
		return errors.New("delays must not be negative")
	}
	switch c.InterfaceSource {
	case InterfaceSourceSystem:
		if len(c.Interfaces) != 0 {
			return errors.New("static interfaces require interface_source = \"static\"")
		}
	case InterfaceSourceStatic:
		for _, info := range c.Interfaces {
			if info.Name == "" {
				return errors.New("static interface without name")
			}
			for _, addr := range info.Addrs {
				if !addr.Addr().Is4() {
					return errors.Errorf("interface %s: %s is not an IPv4 prefix", info.Name, addr)
				}
			}
		}
	default:
		return errors.Errorf("unknown interface source %q", c.InterfaceSource)
	}
	return nil
}

// BindingContext returns the instance and VRFs this daemon serves.
func (c *Configuration) BindingContext() BindingContext {
	ctx := BindingContext{Instance: c.Instance}
	if c.VRF != "" {
		ctx.VRFs = []string{c.VRF}
	}
	return ctx
}

func DecodeConfiguration(r io.Reader) (Configuration, error) {
	var c Configuration
	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&c)
	if err != nil {
		return c, errors.Wrap(err, "could not decode configuration")
	}
	c.InitDefaults()
	return c, c.Validate()
}

func LoadConfiguration(path string) (Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Configuration{}, errors.Wrap(err, "could not open configuration")
	}
	defer f.Close()
	return DecodeConfiguration(f)
}

const sampleConfiguration = `node = "router1"
instance = 0
vrf = "default"
log_level = "info"
metrics_addr = "127.0.0.1:9520"
spf_delay = "200ms"
asbr_delay = "5s"
interface_source = "static"

[etcd]
endpoints = ["http://localhost:2379"]
prefix = "/ospfnbd"
timeout = "5s"

[[interface]]
name = "eth0"
vrf = "default"
bandwidth = 1000000
addresses = ["10.0.0.1/24"]
`

func WriteSample(w io.Writer) error {
	_, err := io.Copy(w, bytes.NewBufferString(sampleConfiguration))
	return err
}

// DecodeEdits reads a batch of edits in the form
//
//	[[edit]]
//	op = "set"
//	xpath = "..."
//	value = "..."
func DecodeEdits(r io.Reader) ([]Edit, error) {
	var doc editDocument
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "could not decode edits")
	}
	return doc.Edits, nil
}

type editDocument struct {
	Edits []Edit `toml:"edit"`
}
