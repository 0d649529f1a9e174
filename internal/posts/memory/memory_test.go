package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DeterministicIDs(t *testing.T) {
	agentID := AgentID("muse")

	for _, tc := range []struct {
		desc string
		chk  func(t *testing.T)
	}{
		{
			desc: "Same inputs always derive the same id",
			chk: func(t *testing.T) {
				assert.Equal(t, AgentID("muse"), agentID)
				assert.Equal(t, MemoryID("1234", agentID), MemoryID("1234", agentID))
				assert.Equal(t, RoomID("1234", agentID), RoomID("1234", agentID))
			},
		},
		{
			desc: "Different posts derive different memory ids",
			chk: func(t *testing.T) {
				assert.NotEqual(t, MemoryID("1234", agentID), MemoryID("5678", agentID))
			},
		},
		{
			desc: "Different agents derive different ids for the same post",
			chk: func(t *testing.T) {
				other := AgentID("other-account")
				require.NotEqual(t, agentID, other)
				assert.NotEqual(t, MemoryID("1234", agentID), MemoryID("1234", other))
			},
		},
		{
			desc: "Derived ids are valid uuid strings",
			chk: func(t *testing.T) {
				assert.Len(t, agentID, 36)
				assert.Len(t, MemoryID("1234", agentID), 36)
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			tc.chk(t)
		})
	}
}
