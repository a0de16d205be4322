package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/warden/internal/supervisor"
)

func TestConfigPathResolution(t *testing.T) {
	c := command{flags: &GlobalFlags{ConfigPath: "/etc/warden.toml"}}
	path, err := c.configPath([]string{"positional.toml"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/warden.toml", path, "--config wins over the positional argument")

	c = command{flags: &GlobalFlags{}}
	path, err = c.configPath([]string{"positional.toml"})
	require.NoError(t, err)
	assert.Equal(t, "positional.toml", path)

	_, err = c.configPath(nil)
	require.Error(t, err)
}

func TestSummarizeWireFormat(t *testing.T) {
	last := time.Now()
	snap := supervisor.Snapshot{
		UptimeSeconds: 120,
		Services: []supervisor.ServiceStatus{
			{Name: "grafana", Online: true, LastRestartAt: &last, RestartsThisWindow: 1},
			{Name: "redis", Online: false, RestartsThisWindow: 3},
		},
	}
	sum := summarize(snap)
	assert.Equal(t, int64(120), sum.UptimeSeconds)
	assert.NotEmpty(t, sum.Hostname)
	require.Len(t, sum.Services, 2)
	assert.Equal(t, "grafana", sum.Services[0].Name)
	assert.True(t, sum.Services[0].Online)
	assert.Equal(t, 3, sum.Services[1].RestartsThisWindow)
}

func TestRootCommandWiring(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"start": false, "stop": false, "status": false, "reset": false, "history": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "missing subcommand %s", name)
	}
}
