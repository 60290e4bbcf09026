package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

func writeOahuYAML(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oahu.yaml"), []byte(content), 0o644))
}

func noopFactory(name string) (trigger.Callback, error) {
	return fakeCallback{name: name}, nil
}

type fakeCallback struct{ name string }

func (f fakeCallback) Name() string                                   { return f.name }
func (f fakeCallback) OnTrigger(*stream.Stream, map[string]any) error { return nil }
func (f fakeCallback) Commit(*stream.Stream, map[string]any) error    { return nil }

func TestInitializeBuildsTriggerDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeOahuYAML(t, dir, `
triggers:
  - name: instance-deleted
    identifying_traits: [tenant_id, payload/instance_id]
    criterion:
      type: event_type
      event_type: compute.instance.delete.end
    pipeline_callbacks: [notify]
`)

	cfg, err := Initialize(t.Context(), dir, map[string]CallbackFactory{"notify": noopFactory})
	require.NoError(t, err)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, "instance-deleted", cfg.Triggers[0].Name)
	assert.Equal(t, -1, cfg.GetReadyChunkSize())
	assert.Equal(t, 300, cfg.GetPollingRateSeconds())
}

func TestInitializeUnknownCallback(t *testing.T) {
	dir := t.TempDir()
	writeOahuYAML(t, dir, `
triggers:
  - name: t1
    identifying_traits: [tenant_id]
    criterion: {type: inactive, expiry_seconds: 60}
    pipeline_callbacks: [missing]
`)

	_, err := Initialize(t.Context(), dir, map[string]CallbackFactory{})
	assert.ErrorIs(t, err, ErrUnknownCallback)
}

func TestInitializeMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(t.Context(), dir, nil)
	assert.Error(t, err)
}
