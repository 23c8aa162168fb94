package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Run("defaults to json at info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))

		log.Debug("hidden")
		assert.Zero(t, buf.Len())

		log.Info("hello")
		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText)).Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("static attributes", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(logger.Component("sweeper"))).Info("tick")
		assert.Equal(t, "sweeper", decode(t, buf)["component"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Run("production", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithEnvironment("prod", "sessiond"))
		log.Debug("hidden")
		log.Info("visible")

		entry := decode(t, buf)
		assert.Equal(t, "production", entry["env"])
		assert.Equal(t, "sessiond", entry["service"])
	})

	t.Run("unknown falls back to development", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithEnvironment("", "")).Debug("visible")
		assert.Contains(t, buf.String(), "env=development")
	})
}

func TestWithConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithEnvironment("production", "svc"),
		logger.WithConfig(logger.Config{Level: "debug", Format: "TEXT"}),
	)
	log.Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")

	assert.Panics(t, func() { logger.New(logger.WithConfig(logger.Config{Level: "loud"})) })
}

type ctxKey struct{}

func TestContextExtractors(t *testing.T) {
	buf := &bytes.Buffer{}
	extract := func(ctx context.Context) (slog.Attr, bool) {
		id, ok := ctx.Value(ctxKey{}).(string)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.SessionID(id), true
	}
	log := logger.New(logger.WithOutput(buf), logger.WithContextExtractors(nil, extract))

	ctx := context.WithValue(context.Background(), ctxKey{}, "abc")
	log.With("k", "v").InfoContext(ctx, "with session")
	entry := decode(t, buf)
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "v", entry["k"])

	buf.Reset()
	log.WithGroup("g").InfoContext(context.Background(), "without session")
	assert.NotContains(t, buf.String(), "session_id")
}

func TestAttrs(t *testing.T) {
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
	assert.Equal(t, "error", logger.Error(errors.New("x")).Key)

	errs := logger.Errors(errors.New("a"), nil, errors.New("b"))
	require.Equal(t, slog.KindGroup, errs.Value.Kind())
	assert.Len(t, errs.Value.Group(), 2)
	assert.True(t, logger.Errors(nil, nil).Equal(slog.Attr{}))

	uid := int64(9)
	assert.Equal(t, int64(9), logger.UserID(&uid).Value.Int64())
	assert.True(t, logger.UserID(nil).Equal(slog.Attr{}))
	assert.True(t, logger.SessionID("").Equal(slog.Attr{}))
	assert.True(t, logger.ClientIP("").Equal(slog.Attr{}))
	assert.Equal(t, "request_id", logger.RequestID("r").Key)
	assert.Equal(t, "fingerprint", logger.Resolution("fingerprint").Value.String())
	assert.Equal(t, 2*time.Second, logger.Duration(2*time.Second).Value.Duration())

	g := logger.Group("req", slog.String("id", "1"))
	assert.Equal(t, "req", g.Key)
	assert.Len(t, g.Value.Group(), 1)
}
