package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	n, err := New("user-1", TypeAchievementPending, "One Week Strong", "ready to claim", now)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Equal(t, "🏅 One Week Strong: ready to claim", n.Text())
	assert.NotNil(t, n.Data)

	_, err = New("", TypeLevelUp, "x", "", now)
	assert.ErrorIs(t, err, ErrInvalidNotification)
	_, err = New("user-1", "digest", "x", "", now)
	assert.ErrorIs(t, err, ErrInvalidNotification)
	_, err = New("user-1", TypeLevelUp, "", "", now)
	assert.ErrorIs(t, err, ErrInvalidNotification)
}

func TestTypeDefaults(t *testing.T) {
	assert.Equal(t, "⬆️", TypeLevelUp.Emoji())
	assert.Equal(t, PriorityNormal, TypeLevelUp.DefaultPriority())
	assert.Equal(t, "low", TypeAchievementClaimed.DefaultPriority().String())
}
