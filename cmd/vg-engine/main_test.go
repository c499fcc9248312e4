package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/generator"
	"github.com/vigraph/vg-server-sub000/health"
	"github.com/vigraph/vg-server-sub000/tick"
)

const pipelineYAML = `
elements:
  - id: five
    type: constant
    properties:
      value: 5
  - id: double
    type: scale
  - id: out
    type: send
    properties:
      channel: master
connections:
  - from: five.output
    to: double.input
  - from: double.output
    to: out.input
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "good.yaml", pipelineYAML)
	bad := writeFile(t, "bad.yaml", `
elements:
  - id: five
    type: constant
  - id: count
    type: counter
connections:
  - from: five.output
    to: count.trigger
`)

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok    "+good+" (3 elements)")

	out, err = execute(t, "validate", "-o", "json", good, bad)
	require.Error(t, err)

	var results []ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.Equal(t, []string{"master"}, results[0].Channels)
	assert.False(t, results[1].Valid)
	assert.Equal(t, "type mismatch", results[1].Kind)
	assert.Empty(t, results[0].Warnings)
}

func TestValidateWarnsIsolatedElements(t *testing.T) {
	stray := writeFile(t, "stray.yaml", `
elements:
  - id: five
    type: constant
  - id: double
    type: scale
  - id: idle
    type: pulse
  - id: out
    type: send
    properties:
      channel: master
connections:
  - from: five.output
    to: double.input
`)
	out, err := execute(t, "validate", stray)
	require.NoError(t, err, "warnings do not fail validation")
	assert.Contains(t, out, "warn  "+stray+": element main/idle has no connections")
	assert.NotContains(t, out, "main/out", "channel users are wired through the router")
}

func TestDescribeCommand(t *testing.T) {
	out, err := execute(t, "describe", "-o", "json", "scale")
	require.NoError(t, err)

	var descs []generator.Description
	require.NoError(t, json.Unmarshal([]byte(out), &descs))
	require.Len(t, descs, 1)
	assert.Equal(t, "scale", descs[0].Type)
	assert.Contains(t, descs[0].Properties, "factor")

	out, err = execute(t, "describe")
	require.NoError(t, err)
	assert.Contains(t, out, "counter (core)")
	assert.Contains(t, out, "  in   trigger    trigger")

	out, err = execute(t, "describe", "--schema", "pulse")
	require.NoError(t, err)
	assert.Contains(t, out, `"minimum": 1`)

	_, err = execute(t, "describe", "theremin")
	assert.Error(t, err)
}

func TestRunManualClock(t *testing.T) {
	graph := writeFile(t, "graph.yaml", pipelineYAML)
	cfg := writeFile(t, "engine.yaml", `
engine:
  clock: manual
logging:
  level: warn
  format: text
`)

	_, err := execute(t, "run", "-c", cfg, graph)
	require.Error(t, err, "manual clock needs a tick count")

	out, err := execute(t, "run", "-c", cfg, "--ticks", "3", "-o", "json", graph)
	require.NoError(t, err)

	var report tick.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, uint64(3), report.Tick)
	assert.Equal(t, 3, report.Elements)
	assert.Empty(t, report.Faults)
	assert.Equal(t, map[string]int{"master": 1}, report.ChannelActivity)
}

func TestNATSHealthReachesMonitor(t *testing.T) {
	a := &app{}
	a.natsHealth(false)

	monitor := health.NewMonitor(nil)
	a.monitor.Store(monitor)
	_, ok := monitor.Get("nats")
	assert.False(t, ok, "changes before the engine exists are dropped")

	a.natsHealth(false)
	status, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, "connection lost", status.Message)

	a.natsHealth(true)
	status, _ = monitor.Get("nats")
	assert.True(t, status.IsHealthy())
}

func TestRootRejectsOutput(t *testing.T) {
	_, err := execute(t, "validate", "-o", "xml", "x.yaml")
	assert.Error(t, err)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, appName+" version "+Version)
}
