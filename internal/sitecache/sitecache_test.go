package sitecache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNoteAndNotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jsonl")
	c, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, c.AddNote("example.com", "consent wall appears on first visit"))
	require.NoError(t, c.AddNote("example.com", "price filter lives at ?maxprice="))

	notes := c.Notes("example.com")
	assert.Len(t, notes, 2)
}

func TestAddNoteDedupesExactRepeats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jsonl")
	c, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, c.AddNote("example.com", "same note"))
	require.NoError(t, c.AddNote("example.com", "same note"))

	assert.Len(t, c.Notes("example.com"), 1)
}

func TestKnownDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jsonl")
	c, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, c.AddNote("a.example", "n1"))
	require.NoError(t, c.AddNote("b.example", "n2"))

	domains := c.KnownDomains()
	assert.Len(t, domains, 2)
	assert.Contains(t, domains, "a.example")
	assert.Contains(t, domains, "b.example")
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jsonl")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.AddNote("example.com", "a durable note"))

	c2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a durable note"}, c2.Notes("example.com"))
}

func TestNotesForUnknownDomainIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.jsonl")
	c, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, c.Notes("never-seen.example"))
}
