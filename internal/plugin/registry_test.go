package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644))
}

func writeFakeBinary(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\necho '{}'\n"), 0o755))
}

func TestLoadRegistry_SkipsMissingBinary(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "calc", `{"name":"calc","version":"1","description":"arithmetic","commands":["calc"],"default_action":"calculate","payload_from_args":true}`)
	// no binary written

	reg := LoadRegistry(dir, nil)
	_, ok := reg.Resolve("calc")
	assert.False(t, ok)
}

func TestLoadRegistry_RegistersAndResolves(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "time", `{"name":"time","version":"1","description":"now","commands":["time","now"],"default_action":"now"}`)
	writeFakeBinary(t, dir, "time")

	reg := LoadRegistry(dir, nil)

	m, ok := reg.Resolve("TIME")
	require.True(t, ok, "resolve must be case-insensitive")
	assert.Equal(t, "time", m.Name)

	_, ok = reg.Resolve("now")
	assert.True(t, ok)
}

func TestCommands_SortedAscending(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "time", `{"name":"time","version":"1","description":"now","commands":["time"],"default_action":"now"}`)
	writeFakeBinary(t, dir, "time")
	writeManifest(t, dir, "calc", `{"name":"calc","version":"1","description":"arithmetic","commands":["calc"],"default_action":"calculate","payload_from_args":true}`)
	writeFakeBinary(t, dir, "calc")

	reg := LoadRegistry(dir, nil)
	cmds := reg.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "calc", cmds[0].Alias)
	assert.Equal(t, "time", cmds[1].Alias)
}

func TestLoadRegistry_InvalidJSONSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	reg := LoadRegistry(dir, nil)
	assert.Empty(t, reg.Commands())
}

func TestLoadRegistry_UnreadableDirectoryIsNotFatal(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	assert.Empty(t, reg.Commands())
}

func TestLoadRegistry_AliasCollisionLastWriterWins(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a_first", `{"name":"a_first","version":"1","description":"a","commands":["shared"],"default_action":"a"}`)
	writeFakeBinary(t, dir, "a_first")
	writeManifest(t, dir, "b_second", `{"name":"b_second","version":"1","description":"b","commands":["shared"],"default_action":"b"}`)
	writeFakeBinary(t, dir, "b_second")

	reg := LoadRegistry(dir, nil)
	m, ok := reg.Resolve("shared")
	require.True(t, ok)
	// os.ReadDir returns entries sorted by name; b_second.json sorts after a_first.json.
	assert.Equal(t, "b_second", m.Name)
}
