package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	assert.Equal(t, ServiceName, info.Service)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
	assert.True(t, info.BuildTime.IsZero(), "unknown build date must not parse")
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "2026-01-13T20:00:00Z"
	expected, _ := time.Parse(time.RFC3339, BuildDate)
	assert.True(t, GetBuildInfo().BuildTime.Equal(expected))
}

func TestUserAgent(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()
	Version = "1.2.3"

	assert.True(t, strings.HasPrefix(UserAgent(""), "smtp-relay/1.2.3 ("))
	assert.True(t, strings.HasPrefix(UserAgent("relayctl"), "smtp-relay-relayctl/1.2.3 ("))
}

func TestLogFields(t *testing.T) {
	fields := LogFields()
	assert.Len(t, fields, 8)
	assert.Equal(t, "version", fields[0])
}
