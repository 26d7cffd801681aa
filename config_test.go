package main

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSampleConfiguration(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSample(&buf))
	config, err := DecodeConfiguration(&buf)
	require.NoError(t, err)

	assert.Equal(t, "router1", config.Node)
	assert.Equal(t, 200*time.Millisecond, config.SPFDelay.Duration)
	assert.Equal(t, 5*time.Second, config.Etcd.Timeout.Duration)
	assert.Equal(t, InterfaceSourceStatic, config.InterfaceSource)
	want := []InterfaceInfo{{
		Name:      "eth0",
		VRF:       "default",
		Bandwidth: 1000000,
		Addrs:     []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
	}}
	if diff := cmp.Diff(want, config.Interfaces, cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
		t.Errorf("config.Interfaces mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, BindingContext{Instance: 0, VRFs: []string{"default"}}, config.BindingContext())
}

func TestConfigurationDefaults(t *testing.T) {
	config, err := DecodeConfiguration(strings.NewReader(`node = "r2"` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, DefaultMetricsAddr, config.MetricsAddr)
	assert.Equal(t, DefaultSPFDelay, config.SPFDelay.Duration)
	assert.Equal(t, DefaultASBRDelay, config.ASBRDelay.Duration)
	assert.Equal(t, []string{DefaultEtcdEndpoint}, config.Etcd.Endpoints)
	assert.Equal(t, DefaultEtcdPrefix, config.Etcd.Prefix)
	assert.Equal(t, InterfaceSourceSystem, config.InterfaceSource)
	assert.Nil(t, config.BindingContext().VRFs)
}

func TestConfigurationRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":         "node = \"r\"\nbogus = 1\n",
		"bad duration":          "node = \"r\"\nspf_delay = \"soon\"\n",
		"negative delay":        "node = \"r\"\nasbr_delay = \"-1s\"\n",
		"bad log level":         "node = \"r\"\nlog_level = \"loud\"\n",
		"unknown source":        "node = \"r\"\ninterface_source = \"snmp\"\n",
		"static without source": "node = \"r\"\n[[interface]]\nname = \"eth0\"\n",
		"unnamed interface":     "node = \"r\"\ninterface_source = \"static\"\n[[interface]]\nbandwidth = 10\n",
		"ipv6 address":          "node = \"r\"\ninterface_source = \"static\"\n[[interface]]\nname = \"eth0\"\naddresses = [\"2001:db8::1/64\"]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeConfiguration(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ospfnbd.toml")
	require.NoError(t, os.WriteFile(path, []byte("node = \"r3\"\ninstance = 4\nvrf = \"blue\"\n"), 0o644))
	config, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, BindingContext{Instance: 4, VRFs: []string{"blue"}}, config.BindingContext())

	_, err = LoadConfiguration(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestDecodeEdits(t *testing.T) {
	doc := `
[[edit]]
op = "set"
xpath = "/frr-interface:lib/interface[name='eth0']/frr-ospfd:ospf/area"
value = "0.0.0.0"

[[edit]]
op = "delete"
xpath = "/frr-interface:lib/interface[name='eth1']"
`
	edits, err := DecodeEdits(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []Edit{
		{Op: EditSet, XPath: "/frr-interface:lib/interface[name='eth0']/frr-ospfd:ospf/area", Value: "0.0.0.0"},
		{Op: EditDelete, XPath: "/frr-interface:lib/interface[name='eth1']"},
	}, edits)

	_, err = DecodeEdits(strings.NewReader("[[edit]]\nop = \"set\"\npath = \"/a\"\n"))
	assert.Error(t, err)
}
