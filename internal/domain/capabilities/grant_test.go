package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrant(t *testing.T) {
	t.Parallel()

	read := Capability{Kind: KindTool, Pattern: "read"}
	bash := Capability{Kind: KindTool, Pattern: "bash"}

	g := NewGrant()
	g.Add(read)
	g.Add(read)
	assert.Len(t, g, 1)
	assert.True(t, g.Contains(read))
	assert.False(t, g.Contains(bash))
	assert.Equal(t, RiskLevelLow, g.HighestRisk())

	merged := g.Merge(Grant{read, bash})
	assert.Len(t, merged, 2)
	assert.Len(t, g, 1, "merge does not mutate the receiver")
	assert.Equal(t, RiskLevelHigh, merged.HighestRisk())

	merged.Remove(read)
	assert.Equal(t, Grant{bash}, merged)
}
