package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeG12/DStream/internal/errs"
)

func testCatalog() *Catalog {
	cat := New("orders-db")
	cat.Streams = []Entry{
		{
			Stream: "users",
			Schema: Schema{Fields: []Field{
				{Name: "id", Type: TypeInteger},
				{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
			}},
			KeyProperties:     []string{"id"},
			ReplicationMethod: Incremental,
			ReplicationKey:    "updated_at",
		},
		{
			Stream:            "orders",
			Schema:            Schema{Fields: []Field{{Name: "id", Type: TypeInteger}}},
			KeyProperties:     []string{"id"},
			ReplicationMethod: FullTable,
		},
		{
			Stream:            "audit_log",
			ReplicationMethod: FullTable,
		},
	}
	return cat
}

func TestSelectDeselect(t *testing.T) {
	cat := testCatalog()

	unknown := cat.Select([]string{"users", "orders"})
	assert.Empty(t, unknown)

	selected := cat.Selected()
	require.Len(t, selected, 2)
	// Catalog order is preserved in the selected view.
	assert.Equal(t, "users", selected[0].Stream)
	assert.Equal(t, "orders", selected[1].Stream)

	unknown = cat.Deselect([]string{"orders"})
	assert.Empty(t, unknown)
	selected = cat.Selected()
	require.Len(t, selected, 1)
	assert.Equal(t, "users", selected[0].Stream)
}

func TestSelectUnknownNamesAreReportedNotFatal(t *testing.T) {
	cat := testCatalog()

	unknown := cat.Select([]string{"users", "payments", "sessions"})
	assert.Equal(t, []string{"payments", "sessions"}, unknown)

	// The matching name still took effect.
	selected := cat.Selected()
	require.Len(t, selected, 1)
	assert.Equal(t, "users", selected[0].Stream)
}

func TestSelectionIsIdempotentAndTouchesNothingElse(t *testing.T) {
	cat := testCatalog()
	before := testCatalog()

	cat.Select([]string{"users"})
	cat.Select([]string{"users"})
	cat.Deselect([]string{"users"})

	// Select-then-deselect restores the original state exactly.
	assert.Equal(t, before.Streams, cat.Streams)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	cat := testCatalog()
	cat.Select([]string{"users"})
	require.NoError(t, cat.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cat.Streams, loaded.Streams)
	assert.Equal(t, cat.Connector, loaded.Connector)
}

func TestLoadCorruptCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCorruptCatalog))
}

func TestLoadRejectsDuplicateStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	cat := testCatalog()
	cat.Streams = append(cat.Streams, cat.Streams[0])
	require.NoError(t, cat.Save(path))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCorruptCatalog))
	assert.Contains(t, err.Error(), "duplicate stream")
}

func TestLoadAllowsSameStreamInDifferentSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	cat := testCatalog()
	dup := cat.Streams[0]
	dup.SchemaName = "archive"
	cat.Streams = append(cat.Streams, dup)
	require.NoError(t, cat.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Streams, len(cat.Streams))
}

func TestGet(t *testing.T) {
	cat := testCatalog()

	entry, ok := cat.Get("orders")
	require.True(t, ok)
	assert.Equal(t, "orders", entry.Stream)

	_, ok = cat.Get("missing")
	assert.False(t, ok)
}

func TestSchemaField(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "id", Type: TypeInteger}}}

	f, ok := s.Field("id")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, f.Type)

	_, ok = s.Field("nope")
	assert.False(t, ok)
}
