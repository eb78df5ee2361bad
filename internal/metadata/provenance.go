// Package metadata renders the provenance block stored in a template's
// description field, so a finished template records which image produced it.
// The block persists with the guest itself, eliminating the need for
// external storage.
package metadata

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Marker is the first line of every provenance block. Parse uses it to find
// the block inside a description that may carry other operator notes.
const Marker = "#kiln:provenance"

// Provenance describes where a template came from. It is serialized as YAML
// for easy human readability when inspecting the guest configuration
// directly.
type Provenance struct {
	Name         string    `yaml:"name"`
	Release      string    `yaml:"release"`
	Arch         string    `yaml:"arch"`
	SourceImage  string    `yaml:"source_image"`
	SourceSHA256 string    `yaml:"source_sha256"`
	Builder      string    `yaml:"builder"`
	RunID        string    `yaml:"run_id"`
	BuiltAt      time.Time `yaml:"built_at"`
}

// Render serializes the provenance as a description body: the marker line
// followed by the YAML payload.
func (p *Provenance) Render() (string, error) {
	yamlData, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal provenance to YAML: %w", err)
	}
	return Marker + "\n" + string(yamlData), nil
}

// Parse extracts the provenance block from a description. Text before the
// marker (operator notes) is ignored.
func Parse(description string) (*Provenance, error) {
	idx := strings.Index(description, Marker)
	if idx < 0 {
		return nil, fmt.Errorf("description carries no provenance block")
	}

	body := description[idx+len(Marker):]
	var p Provenance
	if err := yaml.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
	}

	if p.RunID == "" {
		return nil, fmt.Errorf("provenance block has no run id")
	}
	return &p, nil
}
