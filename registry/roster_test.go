package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRosterFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRosterFileParsesAgents(t *testing.T) {
	path := writeRosterFile(t, `
agents:
  - name: billing
    description: handles billing questions
    endpoint: https://billing.internal/rpc
    capabilities: [billing, invoices]
    keywords: [invoice]
    examples: ["what's my balance?"]
`)

	entries, err := loadRosterFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "billing", entries[0].Card.Name)
	assert.Equal(t, "https://billing.internal/rpc", entries[0].Card.Endpoints.JSONRPC)
	assert.Equal(t, []string{"invoice"}, entries[0].Keywords)
	assert.Equal(t, []string{"what's my balance?"}, entries[0].Examples)
}

func TestLoadRosterFileSkipsIncompleteEntries(t *testing.T) {
	path := writeRosterFile(t, `
agents:
  - name: noendpoint
  - endpoint: https://x/rpc
  - name: complete
    endpoint: https://complete.internal/rpc
`)

	entries, err := loadRosterFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "complete", entries[0].Card.Name)
}

func TestLoadRosterFileMissingFileErrors(t *testing.T) {
	_, err := loadRosterFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistryRefreshMergesRosterFile(t *testing.T) {
	srv := newAgentServer(t, "discovered", "found over http")
	defer srv.Close()

	path := writeRosterFile(t, `
agents:
  - name: static
    description: declared in the roster file
    endpoint: https://static.internal/rpc
`)

	r := New(nil)
	r.Refresh(context.Background(), []string{srv.URL}, WithRosterFile(path))

	require.Equal(t, 2, r.Len())
	_, ok := r.Get("discovered")
	assert.True(t, ok)
	entry, ok := r.Get("static")
	assert.True(t, ok)
	assert.Equal(t, "declared in the roster file", entry.Description)
}

func TestRegistryRefreshHTTPDiscoveryTakesPrecedenceOverRoster(t *testing.T) {
	srv := newAgentServer(t, "billing", "found over http")
	defer srv.Close()

	path := writeRosterFile(t, `
agents:
  - name: billing
    description: stale roster entry
    endpoint: https://stale.internal/rpc
`)

	r := New(nil)
	r.Refresh(context.Background(), []string{srv.URL}, WithRosterFile(path))

	require.Equal(t, 1, r.Len())
	entry, ok := r.Get("billing")
	require.True(t, ok)
	assert.Equal(t, "found over http", entry.Description)
}
