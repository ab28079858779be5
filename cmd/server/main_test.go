package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	logger := newLogger("json", &buf)
	logger.Info().Str("module", "orch").Msg("connection ready")

	var line map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &line))
	req.Equal("info", line["level"])
	req.Equal("orch", line["module"])
	req.Equal("connection ready", line["message"])
	req.Contains(line, "time")
}

func TestNewLogger_Console(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	logger := newLogger("console", &buf)
	logger.Info().Str("module", "orch").Msg("connection ready")

	out := buf.String()
	req.Contains(out, "connection ready")
	req.Contains(out, "module=")
	req.False(strings.HasPrefix(out, "{"))
}
