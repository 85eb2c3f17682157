package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Parallel()
	info := Info{Version: "1.4.0", Commit: "abc123", BuildDate: "2026-01-02", GoVersion: "go1.25", Platform: "linux/amd64"}

	assert.Equal(t, "1.4.0", info.String())
	assert.Equal(t, "1.4.0 (abc123) built 2026-01-02 go1.25 linux/amd64", info.Full())
	assert.Equal(t, "exthost/1.4.0 (linux/amd64)", info.UserAgent())
}

func TestGet(t *testing.T) {
	t.Parallel()
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.True(t, strings.HasPrefix(info.Platform, runtime.GOOS+"/"))
}
