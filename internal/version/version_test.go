package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime })

	assert.Equal(t, "dev (commit unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "0.3.1", "abc1234", "2024-05-01T10:00:00Z"
	assert.Equal(t, "0.3.1 (commit abc1234, built 2024-05-01T10:00:00Z)", String())
}
