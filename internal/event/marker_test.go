package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"converge/internal/resource"
)

func TestMarker_Transitions(t *testing.T) {
	m := NewMarker()
	id := resource.NewID("default", "web")

	assert.False(t, m.EventPresent(id))
	require.NoError(t, m.MarkEvent(id))
	assert.True(t, m.EventPresent(id))

	// marking again keeps a single pending event
	require.NoError(t, m.MarkEvent(id))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.UnmarkEvent(id))
	assert.False(t, m.EventPresent(id))
	assert.Equal(t, 0, m.Len())

	// unmarking with nothing pending is a no-op
	require.NoError(t, m.UnmarkEvent(id))
}

func TestMarker_DeleteIsTerminal(t *testing.T) {
	m := NewMarker()
	id := resource.NewID("default", "web")

	require.NoError(t, m.MarkEvent(id))
	m.MarkDeleteEvent(id)
	m.MarkDeleteEvent(id)

	assert.True(t, m.DeleteEventPresent(id))
	assert.False(t, m.EventPresent(id))

	err := m.MarkEvent(id)
	assert.ErrorIs(t, err, ErrDeleteEventPresent)
	assert.ErrorIs(t, m.UnmarkEvent(id), ErrDeleteEventPresent)
	assert.True(t, m.DeleteEventPresent(id))

	m.Cleanup(id)
	assert.False(t, m.DeleteEventPresent(id))
	require.NoError(t, m.MarkEvent(id))
}
