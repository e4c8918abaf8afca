package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/storage/models"
)

type memSeedStore struct {
	audits  []models.Audit
	devices []models.Device
}

func (m *memSeedStore) UpsertAudit(ctx context.Context, a *models.Audit) error {
	m.audits = append(m.audits, *a)
	return nil
}

func (m *memSeedStore) UpsertDevice(ctx context.Context, d *models.Device) error {
	m.devices = append(m.devices, *d)
	return nil
}

const seedYAML = `
audits:
  - audit_id: 16
    audit_name: Cisco Audit New
    category: Network
    description: Interface and routing checks
    device_categories: [Router]
  - audit_id: 20
    audit_name: Printer Audit
    category: Security
    device_categories: [Printer]
    audit_path: printers/baseline.yaml
devices:
  - device_id: 1
    device_name: core-router
    category: Router
    host: 10.0.0.1
    port: 22
`

func TestParseAndApplySeed(t *testing.T) {
	f, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)

	st := &memSeedStore{}
	require.NoError(t, applySeed(context.Background(), st, f))

	require.Len(t, st.audits, 2)
	assert.Equal(t, []string{"Router"}, st.audits[0].DeviceCategories)
	assert.Equal(t, "printers/baseline.yaml", st.audits[1].ScriptPath)
	require.Len(t, st.devices, 1)
	assert.Equal(t, "10.0.0.1", st.devices[0].Host)
}

func TestParseSeedRejectsIncompleteRecords(t *testing.T) {
	_, err := parseSeed([]byte("audits:\n  - audit_name: Nameless\n"))
	assert.Error(t, err)

	_, err = parseSeed([]byte("devices:\n  - device_id: 2\n    device_name: sw1\n"))
	assert.Error(t, err)
}

func TestMissingScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "16.yaml"), []byte("name: cisco\ncommands:\n  - show version\n"), 0o644))

	f, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)

	missing := missingScripts(dir, f.Audits)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0], "20. Printer Audit")
}

func TestSplitHoldout(t *testing.T) {
	examples := make([]classifier.Example, 10)
	for i := range examples {
		examples[i] = classifier.Example{Text: string(rune('a' + i)), Label: classifier.General}
	}

	train, test := split(examples, 0.2, 7)
	assert.Len(t, train, 8)
	assert.Len(t, test, 2)
	assert.Equal(t, "a", examples[0].Text, "input is not reordered")

	train, test = split(examples, 0, 7)
	assert.Len(t, train, 10)
	assert.Empty(t, test)
}
