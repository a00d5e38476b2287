package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeKnowledgeDir(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoad_FiltersByRole(t *testing.T) {
	dir := writeKnowledgeDir(t, `
packs:
  - name: methodology
    file: methodology.md
  - name: lead-playbook
    file: lead.md
    roles: [lead]
`, map[string]string{
		"methodology.md": "Audit phases proceed in order.",
		"lead.md":        "Leads approve plans and delegate.",
	})

	lib, err := Load(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, lib.Len())

	lead := lib.ForRole("lead")
	require.Len(t, lead, 2)

	fieldworker := lib.ForRole("fieldworker")
	require.Len(t, fieldworker, 1)
	assert.Equal(t, "methodology", fieldworker[0].Name)
	assert.Contains(t, fieldworker[0].Content, "in order")
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(t.TempDir(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestLoad_MissingDocumentFailsWholeLoad(t *testing.T) {
	dir := writeKnowledgeDir(t, `
packs:
  - name: methodology
    file: missing.md
`, nil)

	_, err := Load(dir, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "methodology")
}

func TestLoad_RejectsDuplicatePacks(t *testing.T) {
	dir := writeKnowledgeDir(t, `
packs:
  - name: methodology
    file: a.md
  - name: methodology
    file: b.md
`, map[string]string{"a.md": "a", "b.md": "b"})

	_, err := Load(dir, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
