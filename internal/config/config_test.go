package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInitMissingFileIsNotAnError(t *testing.T) {
	Keys = Run{}
	err := Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.NoError(t, err)
}

func TestInitMergesFileOntoDefaults(t *testing.T) {
	Keys = Run{Interval: time.Second}
	path := writeTempConfig(t, `{
		"requestFiles": ["vacuum.req"],
		"interval": "500ms",
		"dailyFiles": true,
		"rolloverHour": 6
	}`)

	require.NoError(t, Init(path))
	assert.Equal(t, []string{"vacuum.req"}, Keys.RequestFiles)
	assert.Equal(t, 500*time.Millisecond, Keys.Interval)
	assert.True(t, Keys.DailyFiles)
	assert.Equal(t, 6, Keys.RolloverHour)
}

func TestInitRejectsUnknownFields(t *testing.T) {
	Keys = Run{}
	path := writeTempConfig(t, `{"bogusField": true}`)
	err := Init(path)
	assert.Error(t, err)
}

func TestInitRejectsBadDuration(t *testing.T) {
	Keys = Run{}
	path := writeTempConfig(t, `{"interval": "not-a-duration"}`)
	err := Init(path)
	assert.Error(t, err)
}
