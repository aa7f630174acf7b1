package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditLogChainVerifies(t *testing.T) {
	log := NewAuditLog()
	log.Append("sess1", "quarantine.enter", map[string]string{"tool": "search"})
	log.Append("sess1", "quarantine.exit", map[string]string{"tool": "search"})
	log.Append("sess1", "modulator.clamp", map[string]string{"target": "risky_tool"})

	chain := log.Chain("sess1")
	require.Len(t, chain, 3)
	require.Equal(t, "", chain[0].PrevHash)
	require.Equal(t, chain[0].Hash, chain[1].PrevHash)
	require.Equal(t, chain[1].Hash, chain[2].PrevHash)

	ok, err := log.Verify("sess1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuditLogDetectsTamper(t *testing.T) {
	log := NewAuditLog()
	log.Append("sess1", "quarantine.enter", "search")
	log.Append("sess1", "quarantine.exit", "search")

	log.mu.Lock()
	entries := log.entries["sess1"]
	entries[0].Action = "tampered"
	log.entries["sess1"] = entries
	log.mu.Unlock()

	ok, err := log.Verify("sess1")
	require.Error(t, err)
	require.False(t, ok)
}

func TestAuditLogSeparateSessionsIndependent(t *testing.T) {
	log := NewAuditLog()
	log.Append("sess1", "a", nil)
	log.Append("sess2", "b", nil)

	require.Len(t, log.Chain("sess1"), 1)
	require.Len(t, log.Chain("sess2"), 1)
	require.NotEqual(t, log.Chain("sess1")[0].Hash, log.Chain("sess2")[0].Hash)
}
