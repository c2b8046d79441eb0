package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowlistStrict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust", "allowlist.json")
	al, err := NewAllowlist(path, true)
	require.NoError(t, err)

	trusted := newPeerID(t)
	stranger := newPeerID(t)
	assert.False(t, al.IsAllowed(trusted))

	require.NoError(t, al.Add(trusted, "laptop", []string{"/ip4/10.0.0.1/tcp/4001"}))
	assert.True(t, al.IsAllowed(trusted))
	assert.False(t, al.IsAllowed(stranger))

	reloaded, err := NewAllowlist(path, true)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Count())
	entry := reloaded.List()[0]
	assert.Equal(t, trusted.String(), entry.PeerID)
	assert.Equal(t, "laptop", entry.Name)
	assert.NotZero(t, entry.AddedAt)

	require.NoError(t, reloaded.Remove(trusted))
	assert.False(t, reloaded.IsAllowed(trusted))
}

func TestAllowlistOpen(t *testing.T) {
	al, err := NewAllowlist("", false)
	require.NoError(t, err)
	assert.True(t, al.IsAllowed(newPeerID(t)), "a non-strict list admits everyone")

	var none *Allowlist
	assert.True(t, none.IsAllowed(newPeerID(t)))
}
