package txlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoDio-zd/resvoy/pkg/rm"
)

func TestSaveAndLoadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "prepared.json"))
	require.NoError(t, err)

	records := map[string]*rm.Record{
		"1001": {Fields: map[string]any{"price": float64(300)}, Version: 0},
	}
	require.NoError(t, log.Save(5, records))

	all, err := log.LoadAll()
	require.NoError(t, err)
	require.Contains(t, all, int64(5))
	assert.Equal(t, float64(300), all[5]["1001"].Fields["price"])
}

func TestRemoveDeletesEntry(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "prepared.json"))
	require.NoError(t, err)

	require.NoError(t, log.Save(5, map[string]*rm.Record{"1001": {Fields: map[string]any{"v": 1}}}))
	require.NoError(t, log.Remove(5))

	all, err := log.LoadAll()
	require.NoError(t, err)
	assert.NotContains(t, all, int64(5))
}

func TestRemoveUnknownXidIsNoOp(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "prepared.json"))
	require.NoError(t, err)
	assert.NoError(t, log.Remove(999))
}

func TestOpenIsDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prepared.json")

	log1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log1.Save(7, map[string]*rm.Record{"2001": {Fields: map[string]any{"v": "x"}, Deleted: true}}))

	log2, err := Open(path)
	require.NoError(t, err)
	all, err := log2.LoadAll()
	require.NoError(t, err)
	require.Contains(t, all, int64(7))
	assert.True(t, all[7]["2001"].Deleted)
}
