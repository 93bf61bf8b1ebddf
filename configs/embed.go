package configs

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/codex-k8s/browser-mcp-relay/internal/render"
)

// DefaultName is the embedded settings file used when no path is configured.
const DefaultName = "browser-mcp-relay.yaml"

//go:embed *.yaml
var embeddedConfigs embed.FS

// Names returns the list of embedded YAML settings filenames.
func Names() []string {
	entries, err := fs.Glob(embeddedConfigs, "*.yaml")
	if err != nil {
		return nil
	}
	sort.Strings(entries)
	return entries
}

// Load returns the embedded YAML settings file by filename. The ".yaml"
// extension may be omitted.
func Load(name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("embedded config name is empty")
	}
	if path.Ext(name) == "" {
		name += ".yaml"
	}
	data, err := fs.ReadFile(embeddedConfigs, name)
	if err != nil {
		return nil, fmt.Errorf("read embedded config %q (available: %v): %w", name, Names(), err)
	}
	return data, nil
}

// Render loads an embedded settings file and expands its env templates.
func Render(name string) ([]byte, error) {
	raw, err := Load(name)
	if err != nil {
		return nil, err
	}
	return render.Bytes(name, raw)
}
