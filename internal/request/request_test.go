package request

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadBasic(t *testing.T) {
	dir := t.TempDir()
	p := writeCSV(t, dir, "req.csv", "ControlName,ReadbackName,Tolerance\nX,X.RBV,0.5\nY,,0\n")

	set, err := Load([]string{p}, false)
	require.NoError(t, err)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, "X", set.Rows[0].ControlName)
	assert.Equal(t, "X.RBV", set.Rows[0].ReadbackName)
	assert.True(t, set.Rows[0].HasTolerance)
	assert.Equal(t, 0.5, set.Rows[0].Tolerance)
}

func TestLoadMissingControlName(t *testing.T) {
	dir := t.TempDir()
	p := writeCSV(t, dir, "req.csv", "Readback\nfoo\n")

	_, err := Load([]string{p}, false)
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}

func TestLoadBadColumnType(t *testing.T) {
	dir := t.TempDir()
	p := writeCSV(t, dir, "req.csv", "ControlName,Tolerance\nX,notanumber\n")

	_, err := Load([]string{p}, false)
	require.Error(t, err)
}

func TestLoadMultiPageUnique(t *testing.T) {
	dir := t.TempDir()
	p1 := writeCSV(t, dir, "p1.csv", "ControlName\nX\nY\n")
	p2 := writeCSV(t, dir, "p2.csv", "ControlName\nY\nZ\n")

	set, err := Load([]string{p1, p2}, true)
	require.NoError(t, err)
	require.Len(t, set.Rows, 3)
	assert.Equal(t, "X", set.Rows[0].ControlName)
	assert.Equal(t, "Y", set.Rows[1].ControlName)
	assert.Equal(t, "Z", set.Rows[2].ControlName)
}

func TestLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	p := writeCSV(t, dir, "empty.csv", "")

	set, err := Load([]string{p}, false)
	require.NoError(t, err)
	assert.Empty(t, set.Rows)
}

func TestFilterNames(t *testing.T) {
	set := &Set{Rows: []Row{{ControlName: "X1"}, {ControlName: "X2"}, {ControlName: "Y1"}}}
	out, err := FilterNames(set, []string{"X*"}, []string{"X2"})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "X1", out.Rows[0].ControlName)
}
