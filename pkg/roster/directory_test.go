package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

func TestDirectory_SelectInOrder(t *testing.T) {
	d, err := NewDirectory(
		contracts.Guardian{ID: "g1", PublicKey: "aa"},
		contracts.Guardian{ID: "g2"},
		contracts.Guardian{ID: "g3"},
	)
	require.NoError(t, err)

	sel := d.Select(2)
	require.Len(t, sel, 2)
	assert.Equal(t, "g1", sel[0].ID)
	assert.Equal(t, "g2", sel[1].ID)
	assert.Equal(t, []contracts.Channel{contracts.ChannelEmail}, sel[0].Channels)

	assert.Len(t, d.Select(10), 3)
	assert.Empty(t, d.Select(-1))
}

func TestDirectory_DuplicateAndRemove(t *testing.T) {
	d, err := NewDirectory(contracts.Guardian{ID: "g1"})
	require.NoError(t, err)
	assert.Error(t, d.Add(contracts.Guardian{ID: "g1"}))
	assert.Error(t, d.Add(contracts.Guardian{}))

	assert.True(t, d.Remove("g1"))
	assert.False(t, d.Remove("g1"))
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_PublicKey(t *testing.T) {
	d, _ := NewDirectory(contracts.Guardian{ID: "g1", PublicKey: "abcd"}, contracts.Guardian{ID: "g2"})
	k, ok := d.PublicKey("g1")
	assert.True(t, ok)
	assert.Equal(t, "abcd", k)
	_, ok = d.PublicKey("g2")
	assert.False(t, ok)
	_, ok = d.PublicKey("nope")
	assert.False(t, ok)
}
