package backend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMenuYAML = `items:
  - id: margherita
    name: Margherita
    category: mains
    priceCents: 1200
    available: true
  - id: tiramisu
    name: Tiramisu
    category: desserts
    priceCents: 700
    available: true
`

func writeMenuFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMenuFile(t *testing.T) {
	path := writeMenuFile(t, t.TempDir(), sampleMenuYAML)

	items, err := LoadMenuFile(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "margherita", items[0].ID)
	assert.Equal(t, 1200, items[0].PriceCents)
	assert.True(t, items[0].Available)
}

func TestLoadMenuFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing id",
			content: "items:\n  - name: Nameless\n    priceCents: 100\n",
			wantErr: "has no id",
		},
		{
			name:    "duplicate id",
			content: "items:\n  - id: x\n    name: A\n  - id: x\n    name: B\n",
			wantErr: "duplicate menu item id",
		},
		{
			name:    "missing name",
			content: "items:\n  - id: x\n    priceCents: 100\n",
			wantErr: "has no name",
		},
		{
			name:    "negative price",
			content: "items:\n  - id: x\n    name: X\n    priceCents: -5\n",
			wantErr: "negative price",
		},
		{
			name:    "not yaml",
			content: "{{{",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMenuFile(t, t.TempDir(), tt.content)
			_, err := LoadMenuFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMenuFileMissing(t *testing.T) {
	_, err := LoadMenuFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestMenuWatcherInitialLoad(t *testing.T) {
	path := writeMenuFile(t, t.TempDir(), sampleMenuYAML)

	store := NewStore()
	watcher, err := NewMenuWatcher(path, store)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.Len(t, store.MenuItems("", ""), 2)
}

func TestMenuWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeMenuFile(t, dir, sampleMenuYAML)

	store := NewStore()
	watcher, err := NewMenuWatcher(path, store)
	require.NoError(t, err)
	defer watcher.Stop()

	updated := sampleMenuYAML + `  - id: negroni
    name: Negroni
    category: drinks
    priceCents: 900
    available: true
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return len(store.MenuItems("", "")) == 3
	}, 5*time.Second, 50*time.Millisecond, "watcher should pick up the new item")
}

func TestMenuWatcherKeepsMenuOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := writeMenuFile(t, dir, sampleMenuYAML)

	store := NewStore()
	watcher, err := NewMenuWatcher(path, store)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("items: [{{"), 0o644))

	// Give the debounce and reload a chance to run, then confirm the
	// previous menu survived.
	time.Sleep(2 * debounceDelay)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, store.MenuItems("", ""), 2)
}

func TestMenuWatcherBadInitialFile(t *testing.T) {
	path := writeMenuFile(t, t.TempDir(), "items: [{{")

	_, err := NewMenuWatcher(path, NewStore())
	assert.Error(t, err)
}

func TestMenuWatcherStopIdempotent(t *testing.T) {
	path := writeMenuFile(t, t.TempDir(), sampleMenuYAML)

	watcher, err := NewMenuWatcher(path, NewStore())
	require.NoError(t, err)

	watcher.Stop()
	watcher.Stop()
}
