package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
	assert.True(t, info.BuildTime.IsZero(), "the default build date is not a timestamp")
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	validDate := "2026-01-13T20:00:00Z"
	BuildDate = validDate

	info := GetBuildInfo()

	expectedTime, err := time.Parse(time.RFC3339, validDate)
	require.NoError(t, err)
	assert.True(t, info.BuildTime.Equal(expectedTime))
}

func TestBuildInfoString(t *testing.T) {
	info := BuildInfo{Version: "1.2.3", GitCommit: "abc123", BuildDate: "today", GoVersion: "go1.25.0", Platform: "linux/amd64"}
	assert.Equal(t, "trustcore 1.2.3 (commit abc123, built today, go1.25.0 linux/amd64)", info.String())
	assert.Len(t, info.ZapFields(), 4)
}
