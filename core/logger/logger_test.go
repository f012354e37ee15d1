package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certrobot/core/logger"
)

func TestNewTextOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	log := logger.New(
		logger.WithOutput(&out),
		logger.WithErrorOutput(&errOut),
	)

	log.Info("batch started", logger.Zone("example.com"))
	assert.Contains(t, out.String(), "batch started")
	assert.Contains(t, out.String(), "zone=example.com")
	assert.Empty(t, errOut.String(), "info records must not hit the error stream")
}

func TestNewErrorsMirroredToErrorStream(t *testing.T) {
	var out, errOut bytes.Buffer
	log := logger.New(
		logger.WithOutput(&out),
		logger.WithErrorOutput(&errOut),
	)

	log.Error("issuance failed", logger.Domain("www.example.com"))
	assert.Contains(t, out.String(), "issuance failed")
	assert.Contains(t, errOut.String(), "issuance failed")
}

func TestNewJSONOutput(t *testing.T) {
	var out bytes.Buffer
	log := logger.New(
		logger.WithJSON(),
		logger.WithOutput(&out),
		logger.WithErrorOutput(&out),
		logger.WithAttrs(slog.String("service", "certrobot")),
	)

	log.Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "certrobot", rec["service"])
}

func TestNewLevelFilter(t *testing.T) {
	var out bytes.Buffer
	log := logger.New(
		logger.WithLevel(slog.LevelWarn),
		logger.WithOutput(&out),
	)

	log.Info("invisible")
	assert.Empty(t, out.String())

	log.Warn("visible")
	assert.Contains(t, out.String(), "visible")
}

func TestErrorAttrNilSafety(t *testing.T) {
	attr := logger.Error(nil)
	assert.True(t, attr.Equal(slog.Attr{}))
}
