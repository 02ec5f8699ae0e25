package config

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildInfo_Version(t *testing.T) {
	assert.Equal(t, "dev", NewBuildInfo().Version)
}

func TestFillFromVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
	}

	t.Run("fills defaults", func(t *testing.T) {
		info := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
		fillFromVCS(&info, settings)
		assert.Equal(t, "0123456", info.Commit)
		assert.Equal(t, "2026-01-02T03:04:05Z", info.BuildTime)
	})

	t.Run("ldflags win", func(t *testing.T) {
		info := BuildInfo{Version: "1.4.0", Commit: "abc1234", BuildTime: "2026-05-01"}
		fillFromVCS(&info, settings)
		assert.Equal(t, "abc1234", info.Commit)
		assert.Equal(t, "2026-05-01", info.BuildTime)
	})
}
