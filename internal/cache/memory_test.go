package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	c := NewMemory("test")
	ctx := context.Background()

	_, err := c.Get(ctx, "nope")
	require.True(t, IsNotFound(err))

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.True(t, IsNotFound(err))
}

func TestMemory_TTLExpires(t *testing.T) {
	c := NewMemory("")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	require.True(t, IsNotFound(err))
}

func TestMemory_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewMemory("a")
	b := NewMemory("b")

	require.NoError(t, a.Set(ctx, "k", "de-a", 0))
	_, err := b.Get(ctx, "k")
	require.True(t, IsNotFound(err))
}

func TestNew_DriverSelection(t *testing.T) {
	c, err := New(Config{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	// driver vacío cae a memory
	c, err = New(Config{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
