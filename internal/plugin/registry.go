// Package plugin implements the plugin dispatch subsystem: discovery
// of external executables via JSON manifests, and the subprocess
// runner that carries out one invocation.
package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Command pairs a registered alias with its owning manifest's
// description, used for the /help enumeration.
type Command struct {
	Alias       string
	Description string
}

// Registry is the immutable, case-insensitive command → manifest
// table built once at startup by scanning a directory of manifests.
type Registry struct {
	dir     string
	entries map[string]Manifest
}

// LoadRegistry scans dir for *.json manifests. Every failure mode —
// an unreadable directory, an unreadable or invalid manifest file, or
// a manifest whose declared binary is missing — is logged and
// skipped; none is fatal, and the registry may end up empty.
func LoadRegistry(dir string, log hclog.Logger) *Registry {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	entries := make(map[string]Manifest)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("cannot read plugin directory", "dir", dir, "error", err)
		return &Registry{dir: dir, entries: entries}
	}

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		manifestPath := filepath.Join(dir, de.Name())

		data, err := os.ReadFile(manifestPath)
		if err != nil {
			log.Warn("cannot read plugin manifest", "file", manifestPath, "error", err)
			continue
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn("invalid plugin manifest JSON", "file", manifestPath, "error", err)
			continue
		}

		binary := filepath.Join(dir, m.Name)
		if _, err := os.Stat(binary); err != nil {
			log.Warn("manifest found but binary missing, skipping", "manifest", manifestPath, "binary", binary)
			continue
		}

		log.Info("registered plugin", "plugin", m.Name, "commands", m.Commands)
		for _, cmd := range m.Commands {
			alias := strings.ToLower(cmd)
			if existing, ok := entries[alias]; ok && existing.Name != m.Name {
				log.Warn("command alias collision, last writer wins",
					"alias", alias, "previous_plugin", existing.Name, "new_plugin", m.Name)
			}
			entries[alias] = m
		}
	}

	log.Info("plugin registry loaded", "total_commands", len(entries))
	return &Registry{dir: dir, entries: entries}
}

// Resolve performs a case-insensitive lookup of command, returning the
// manifest and true on a hit.
func (r *Registry) Resolve(command string) (Manifest, bool) {
	m, ok := r.entries[strings.ToLower(command)]
	return m, ok
}

// Commands returns every registered alias and its manifest's
// description, sorted ascending by alias.
func (r *Registry) Commands() []Command {
	list := make([]Command, 0, len(r.entries))
	for alias, m := range r.entries {
		list = append(list, Command{Alias: alias, Description: m.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Alias < list[j].Alias })
	return list
}

// Dir returns the plugin directory the registry was built from.
func (r *Registry) Dir() string {
	return r.dir
}
