package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Load(ctx, KeyMessages)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save(ctx, KeyMessages, []byte(`[1]`)))
	require.NoError(t, m.Save(ctx, KeyMessages, []byte(`[1,2]`)))

	got, ok, err := m.Load(ctx, KeyMessages)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[1,2]`, string(got))
	assert.Equal(t, 2, m.Saves())
}

func TestMemoryCopiesBuffers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Save(ctx, KeyCompare, buf))
	buf[0] = 'z'

	got, _, _ := m.Load(ctx, KeyCompare)
	assert.Equal(t, "abc", string(got))
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, addr, "", 0, uuid.NewString(), time.Minute)
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Load(ctx, KeyMessages)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Save(ctx, KeyMessages, []byte(`[]`)))
	got, ok, err := r.Load(ctx, KeyMessages)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(got))
}
