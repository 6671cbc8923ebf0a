package timex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSleepAdvances(t *testing.T) {
	t0 := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	m := NewManual(t0)

	require.NoError(t, Sleep(context.Background(), m, 90*time.Second))
	assert.Equal(t, t0.Add(90*time.Second), m.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, m, time.Second), context.Canceled)
	assert.Equal(t, t0.Add(90*time.Second), m.Now(), "cancelled sleep leaves the clock alone")
}

func TestSystemSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, System, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), System, time.Millisecond))
}
