package persistance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

func TestExtractionStoreWritesCSVAndMetadata(t *testing.T) {
	store := NewExtractionStore(t.TempDir())
	ops := []terminal.Deal{
		{"ticket": json.Number("11"), "time": 1704100000, "profit": 12.5, "comment": "EA_TREND_1", "zz_custom": "x"},
		{"ticket": json.Number("12"), "time": 1704200000, "profit": -3.0, "symbol": "WINJ24"},
	}
	meta := Metadata{
		ExtractID:       "done",
		StartDate:       "2024-01-01T00:00:00Z",
		EndDate:         "2024-01-10T00:00:00Z",
		TotalOperations: 2,
		Timestamp:       FormatTime(time.Now()),
	}
	require.NoError(t, store.Save(meta, ops))

	table, err := os.ReadFile(store.OperationsPath("done"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(table)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ticket,time,profit,symbol,comment,zz_custom", lines[0])
	assert.Equal(t, "11,1704100000,12.5,,EA_TREND_1,x", lines[1])
	assert.Equal(t, "12,1704200000,-3,WINJ24,,", lines[2])

	loaded, err := store.LoadMetadata("done")
	require.NoError(t, err)
	assert.Equal(t, meta, *loaded)
}

func TestExtractionStoreEmptyResult(t *testing.T) {
	store := NewExtractionStore(t.TempDir())
	require.NoError(t, store.Save(Metadata{ExtractID: "empty"}, nil))

	table, err := os.ReadFile(store.OperationsPath("empty"))
	require.NoError(t, err)
	assert.Equal(t, "\n", string(table))
}

func TestLoadMetadataMissing(t *testing.T) {
	store := NewExtractionStore(t.TempDir())
	meta, err := store.LoadMetadata("never")
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestLayoutEnsure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	l := NewLayout(root)
	require.NoError(t, l.Ensure())

	for _, dir := range []string{
		filepath.Join(root, "raw", "extractions"),
		filepath.Join(root, "raw", "backtests"),
		filepath.Join(root, "processed", "adherence"),
		filepath.Join(root, "backups"),
		filepath.Join(root, "checkpoints"),
		filepath.Join(filepath.Dir(root), "logs"),
	} {
		assert.DirExists(t, dir)
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("extract_20240101_120000"))
	assert.True(t, ValidID("job-1.v2"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("../etc/passwd"))
	assert.False(t, ValidID("a/b"))
	assert.False(t, ValidID(".hidden"))
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime("2024-01-08T00:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), ts)

	ts, err = ParseTime("2024-01-08T03:00:00-03:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC), ts)

	_, err = ParseTime("08/01/2024")
	assert.Error(t, err)
}
