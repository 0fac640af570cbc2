package system

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetReqLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fallback := zap.NewNop().Sugar()

	tests := []struct {
		name   string
		stored interface{}
		want   func(stored interface{}) *zap.SugaredLogger
	}{
		{
			name:   "stored logger is returned",
			stored: zap.NewNop().Sugar(),
			want:   func(s interface{}) *zap.SugaredLogger { return s.(*zap.SugaredLogger) },
		},
		{
			name:   "invalid type falls back",
			stored: "not-a-logger",
			want:   func(interface{}) *zap.SugaredLogger { return fallback },
		},
		{
			name: "nothing stored falls back",
			want: func(interface{}) *zap.SugaredLogger { return fallback },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tt.stored != nil {
				ctx.Set(ReqLoggerKey, tt.stored)
			}
			require.Same(t, tt.want(tt.stored), GetReqLogger(ctx, fallback))
		})
	}

	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestEnrichReqLoggerWithAuthAddsFields(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set(SubjectKey, "alice")
	ctx.Set(EmailKey, "alice@example.com")
	ctx.Set(GroupsKey, []string{"smtp-relay-admins", "staff"})

	core, recorded := observer.New(zap.DebugLevel)
	enriched := EnrichReqLoggerWithAuth(ctx, zap.New(core).Sugar())
	enriched.Infow("saved relay config")

	entries := recorded.All()
	require.Len(t, entries, 2, "expected debug log for groups and final info log")

	fields := entries[1].ContextMap()
	assert.Equal(t, "alice", fields["subject"])
	assert.Equal(t, "alice@example.com", fields["email"])
	assert.EqualValues(t, 2, fields["groupCount"])
}

func TestEnrichReqLoggerWithAuthHandlesNil(t *testing.T) {
	sugar := zap.NewNop().Sugar()
	require.Same(t, sugar, EnrichReqLoggerWithAuth(nil, sugar))
	require.Nil(t, EnrichReqLoggerWithAuth(&gin.Context{}, nil))
}

func TestNewLogger(t *testing.T) {
	t.Run("stderr production", func(t *testing.T) {
		logger, err := NewLogger(false, LogFileOptions{})
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("stderr debug", func(t *testing.T) {
		logger, err := NewLogger(true, LogFileOptions{})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("rotated file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relay.log")
		logger, err := NewLogger(false, LogFileOptions{Path: path})
		require.NoError(t, err)

		logger.Info("relay started", zap.String("listen", ":8080"))
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"relay started"`)
		assert.Contains(t, string(data), `"ts":"`)
	})
}

func TestNewTestLogger(t *testing.T) {
	t.Run("default level is debug", func(t *testing.T) {
		t.Setenv(TestLogLevelEnv, "")
		log := NewTestZapLogger(t)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("level from environment", func(t *testing.T) {
		t.Setenv(TestLogLevelEnv, "warn")
		log := NewTestLogger(t, "retention")
		assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Desugar().Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("invalid level falls back to debug", func(t *testing.T) {
		t.Setenv(TestLogLevelEnv, "loud")
		assert.True(t, NewTestZapLogger(t).Core().Enabled(zapcore.DebugLevel))
	})
}
