package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

func TestDefault_HasEnoughItemsFor4v4(t *testing.T) {
	c := Default()
	// 4 bans + 8 picks per draft, with room for auto-bans.
	assert.GreaterOrEqual(t, len(c.IDs(engine.CategoryCiv)), 16)
	assert.GreaterOrEqual(t, len(c.IDs(engine.CategoryLeader)), 16)
	assert.GreaterOrEqual(t, len(c.IDs(engine.CategorySouvenir)), 8)
}

func TestGet(t *testing.T) {
	c := Default()

	it, err := c.Get("rome")
	require.NoError(t, err)
	assert.Equal(t, "Rome", it.Name)
	assert.Equal(t, engine.CategoryCiv, it.Category)

	it, err = c.Get("bodhi-leaf")
	require.NoError(t, err)
	assert.Equal(t, engine.CategorySouvenir, it.Category)
	assert.NotEmpty(t, it.Description)

	_, err = c.Get("atlantis")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Equal(t, "atlantis", c.Name("atlantis"))
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("civilizations:\n  - name: Nameless\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("civilizations:\n  - id: a\nleaders:\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate id")

	_, err = Parse([]byte("civilizations: ["))
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesEmbedded(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().IDs(engine.CategoryLeader), c.IDs(engine.CategoryLeader))
}
