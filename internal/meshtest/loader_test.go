package meshtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: sample
description: two nodes, one send
nodes:
  - id: 1
    name: gateway
  - id: 2
    name: sensor
blocked_links: []
expect_routes:
  - node: 2
    to: 1
    hops: 1
    via: 1
sends:
  - from: 2
    to: 1
    payload: "hi"
timeout: 3s
`

func TestParseScenario(t *testing.T) {
	sc, err := Parse([]byte(validScenario))
	require.NoError(t, err)

	assert.Equal(t, "sample", sc.Name)
	require.Len(t, sc.Nodes, 2)
	assert.Equal(t, uint8(1), sc.Nodes[0].ID)
	assert.Equal(t, "gateway", sc.Nodes[0].Name)
	require.Len(t, sc.ExpectRoutes, 1)
	assert.Equal(t, uint8(1), sc.ExpectRoutes[0].Via)
	require.Len(t, sc.Sends, 1)
	assert.Equal(t, "hi", sc.Sends[0].Payload)
	assert.Equal(t, 3*time.Second, sc.timeout())
}

func TestParseScenarioDefaults(t *testing.T) {
	sc, err := Parse([]byte("name: bare\nnodes:\n  - id: 1\n    name: gw\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, sc.timeout())
	assert.Empty(t, sc.Sends)
	assert.Empty(t, sc.ExpectRoutes)
}

func TestParseScenarioRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: typo\nnodse:\n  - id: 1\n    name: gw\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodse")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "nodes:\n  - id: 1\n    name: gw\n",
			want: "name is required",
		},
		{
			name: "no nodes",
			yaml: "name: empty\n",
			want: "at least one node",
		},
		{
			name: "reserved id zero",
			yaml: "name: bad\nnodes:\n  - id: 0\n    name: gw\n",
			want: "reserved",
		},
		{
			name: "reserved broadcast id",
			yaml: "name: bad\nnodes:\n  - id: 255\n    name: gw\n",
			want: "reserved",
		},
		{
			name: "duplicate id",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: a\n  - id: 1\n    name: b\n",
			want: "duplicate node id",
		},
		{
			name: "unnamed node",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: \"\"\n",
			want: "no name",
		},
		{
			name: "blocked link to unknown node",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: gw\nblocked_links:\n  - {from: 1, to: 9}\n",
			want: "unknown node",
		},
		{
			name: "self link",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: gw\nblocked_links:\n  - {from: 1, to: 1}\n",
			want: "self link",
		},
		{
			name: "route to unknown node",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: gw\nexpect_routes:\n  - node: 1\n    to: 9\n",
			want: "unknown node",
		},
		{
			name: "send with empty payload",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: a\n  - id: 2\n    name: b\nsends:\n  - from: 1\n    to: 2\n    payload: \"\"\n",
			want: "empty payload",
		},
		{
			name: "bad timeout",
			yaml: "name: bad\nnodes:\n  - id: 1\n    name: gw\ntimeout: soon\n",
			want: "invalid timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sample", sc.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	le, ok := err.(*LoadError)
	require.True(t, ok)
	assert.Contains(t, le.File, "missing.yaml")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	scenarios, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "sample", scenarios[0].Name)
}

func TestShippedScenariosLoad(t *testing.T) {
	scenarios, err := LoadDirectory("testdata")
	require.NoError(t, err)
	assert.NotEmpty(t, scenarios)
}
