package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "info", FormatJSON, false)
	require.NoError(t, err)

	log.Debugw("hidden")
	log.Infow("synced", "count", 3)
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "synced", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, 3.0, line["count"])
}

func TestNewWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "debug", FormatConsole, false)
	require.NoError(t, err)
	log.Debugw("upgrade", "version", 2)
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), `"version": 2`)
}

func TestNewWriter_Rejects(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, "loud", FormatJSON, false)
	assert.Error(t, err)
	_, err = NewWriter(&bytes.Buffer{}, "info", "xml", false)
	assert.Error(t, err)
}
