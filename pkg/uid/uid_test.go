package uid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOffline(t *testing.T) {
	id := NewOffline()
	assert.True(t, strings.HasPrefix(id, OfflinePrefix))
	assert.True(t, IsOffline(id))

	// Two placeholders generated back to back must differ.
	assert.NotEqual(t, id, NewOffline())
}

func TestIsOffline(t *testing.T) {
	assert.True(t, IsOffline("offline_1712000000000_a1b2c3d4"))
	assert.False(t, IsOffline("1042"))
	assert.False(t, IsOffline(""))
}

func TestFromServer(t *testing.T) {
	assert.Equal(t, "1042", FromServer(1042))
	assert.False(t, IsOffline(FromServer(7)))
}

func TestNew(t *testing.T) {
	id := New()
	assert.NotEmpty(t, id)
	assert.NotEqual(t, id, New())
}
