// Package knowledge loads the engagement's knowledge packs: a manifest.yaml
// naming text documents and the roles they apply to. Packs are read once at
// startup and are immutable for the run; agents receive a read-only view
// filtered to their role.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// manifestEntry is one row of manifest.yaml.
type manifestEntry struct {
	Name  string   `yaml:"name"`
	File  string   `yaml:"file"`
	Roles []string `yaml:"roles"` // empty means every role
}

type manifest struct {
	Packs []manifestEntry `yaml:"packs"`
}

// Pack is one loaded knowledge document.
type Pack struct {
	Name    string
	Roles   []string
	Content string
}

// Library holds every pack loaded for the run.
type Library struct {
	packs []Pack
}

// Load reads manifest.yaml from dir and every document it references. A
// missing manifest, duplicate pack name, or unreadable document fails the
// whole load; a run must not start with partial knowledge.
func Load(dir string, logger *zap.Logger) (*Library, error) {
	log := logger.Named("knowledge")

	raw, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge manifest: %w", err)
	}

	lib := &Library{}
	seen := make(map[string]bool)
	for _, entry := range m.Packs {
		if entry.Name == "" || entry.File == "" {
			return nil, fmt.Errorf("knowledge manifest entry missing name or file")
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate knowledge pack: %s", entry.Name)
		}
		seen[entry.Name] = true

		content, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read knowledge pack %s: %w", entry.Name, err)
		}
		lib.packs = append(lib.packs, Pack{
			Name:    entry.Name,
			Roles:   entry.Roles,
			Content: string(content),
		})
	}

	log.Info("Knowledge packs loaded", zap.Int("count", len(lib.packs)), zap.String("dir", dir))
	return lib, nil
}

// Empty returns a library with no packs, for runs without a knowledge dir.
func Empty() *Library {
	return &Library{}
}

// ForRole returns the packs visible to a role, in manifest order.
func (l *Library) ForRole(role string) []Pack {
	var out []Pack
	for _, p := range l.packs {
		if len(p.Roles) == 0 {
			out = append(out, p)
			continue
		}
		for _, r := range p.Roles {
			if r == role {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Len returns the number of loaded packs.
func (l *Library) Len() int {
	return len(l.packs)
}
