package xdlock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/hotkit/pkg/distributed/xdlock"
)

func TestNewRedsyncFactory_WithNoClients_ReturnsError(t *testing.T) {
	_, err := xdlock.NewRedsyncFactory()
	assert.ErrorIs(t, err, xdlock.ErrNilClient)
}

func TestNewRedsyncFactory_WithNilClient_ReturnsError(t *testing.T) {
	_, err := xdlock.NewRedsyncFactory(nil)
	assert.ErrorIs(t, err, xdlock.ErrNilClient)
}

func TestRedsyncTryLock_WhenFree_AcquiresAndReleases(t *testing.T) {
	// Given
	client, mr := newTestClient(t)
	factory, err := xdlock.NewRedsyncFactory(client)
	require.NoError(t, err)
	ctx := context.Background()

	// When
	handle, err := factory.TryLock(ctx, "order:42")

	// Then
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "lock:order:42", handle.Key())
	assert.True(t, mr.Exists("lock:order:42"))

	require.NoError(t, handle.Unlock(ctx))
	assert.False(t, mr.Exists("lock:order:42"))
}

func TestRedsyncTryLock_WhenHeld_ReturnsNilHandle(t *testing.T) {
	// Given
	client, _ := newTestClient(t)
	factory, err := xdlock.NewRedsyncFactory(client)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := factory.TryLock(ctx, "order:42")
	require.NoError(t, err)
	require.NotNil(t, first)

	// When
	second, err := factory.TryLock(ctx, "order:42")

	// Then
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Unlock(ctx))
}

func TestRedsyncFactory_AfterClose_RejectsNewLocks(t *testing.T) {
	client, _ := newTestClient(t)
	factory, err := xdlock.NewRedsyncFactory(client)
	require.NoError(t, err)

	require.NoError(t, factory.Close())

	_, err = factory.TryLock(context.Background(), "order:42")
	assert.ErrorIs(t, err, xdlock.ErrFactoryClosed)
}
