package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextStatePathKeysByScopeAndHost(t *testing.T) {
	m := NewManager(Config{SessionStateDir: "/state/sessions"})
	assert.Equal(t, "/state/sessions/context-sess-1-vendor.example.json", m.contextStatePath("sess-1", "vendor.example"))
	assert.Equal(t, "/state/sessions/context-vendor.example.json", m.contextStatePath("", "vendor.example"))
	assert.Empty(t, m.contextStatePath("sess-1", ""), "no host, no state file")
	assert.Empty(t, NewManager(Config{}).contextStatePath("sess-1", "vendor.example"), "no state dir configured")
}

func TestReadContextStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{SessionStateDir: dir})

	state := contextState{Scope: "sess-1", Host: "vendor.example", LocalStorage: `{"k":"v"}`}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "context-sess-1-vendor.example.json"), data, 0o644))

	got, ok := m.readContextState("sess-1", "vendor.example")
	require.True(t, ok)
	assert.Equal(t, "vendor.example", got.Host)
	assert.Equal(t, `{"k":"v"}`, got.LocalStorage)

	_, ok = m.readContextState("sess-2", "vendor.example")
	assert.False(t, ok, "a different scope must not see another session's context")
}

func TestHostOfURLStripsWWW(t *testing.T) {
	assert.Equal(t, "vendor.example", hostOfURL("https://www.vendor.example/shop?x=1"))
	assert.Empty(t, hostOfURL("about:blank"))
}
