package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(0, 0)

	ok, err := kv.SetIfAbsent(ctx, "event:abc", []byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetIfAbsent(ctx, "event:abc", []byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := kv.Get(ctx, "event:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first", string(v))
}

func TestKV_CopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(10, time.Minute)

	buf := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", buf))
	buf[0] = 'x'

	v, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	v[1] = 'y'
	again, _, _ := kv.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestKV_BoundedAndDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(2, time.Minute)

	require.NoError(t, kv.Set(ctx, "a", []byte("1")))
	require.NoError(t, kv.Set(ctx, "b", []byte("2")))
	require.NoError(t, kv.Set(ctx, "c", []byte("3")))
	assert.Equal(t, 2, kv.Len())

	_, found, _ := kv.Get(ctx, "a")
	assert.False(t, found, "least recently used entry evicted")

	require.NoError(t, kv.Delete(ctx, "b"))
	_, found, _ = kv.Get(ctx, "b")
	assert.False(t, found)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err := kv.Get(cancelled, "c")
	assert.ErrorIs(t, err, context.Canceled)
}
