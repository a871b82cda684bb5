package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	cache := New()

	_, err := cache.Get(ctx, "pointer.test", "all")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	require.NoError(t, cache.Set(ctx, "pointer.test", "all", "1607425434", caches.Unconditional))

	value, err := cache.Get(ctx, "pointer.test", "all")
	require.NoError(t, err)
	assert.Equal(t, "1607425434", value)

	require.NoError(t, cache.Delete(ctx, "pointer.test", "all", caches.Unconditional))

	_, err = cache.Get(ctx, "pointer.test", "all")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSetNotSetConstraint(t *testing.T) {
	ctx := context.Background()
	cache := New()

	notSet := &caches.Constraint{NotSet: true}

	require.NoError(t, cache.Set(ctx, "lock.test", "all", "owner|deadline", notSet))

	err := cache.Set(ctx, "lock.test", "all", "other|deadline", notSet)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	// The original value must be unchanged after the conflict.
	value, err := cache.Get(ctx, "lock.test", "all")
	require.NoError(t, err)
	assert.Equal(t, "owner|deadline", value)
}

func TestSetEqualsConstraint(t *testing.T) {
	ctx := context.Background()
	cache := New()

	require.NoError(t, cache.Set(ctx, "lock.test", "all", "expired", caches.Unconditional))

	err := cache.Set(ctx, "lock.test", "all", "claimed", &caches.Constraint{Equals: "wrong"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	require.NoError(t, cache.Set(ctx, "lock.test", "all", "claimed", &caches.Constraint{Equals: "expired"}))

	value, err := cache.Get(ctx, "lock.test", "all")
	require.NoError(t, err)
	assert.Equal(t, "claimed", value)
}

func TestSetEqualsConstraintAbsent(t *testing.T) {
	ctx := context.Background()
	cache := New()

	err := cache.Set(ctx, "lock.test", "all", "claimed", &caches.Constraint{Equals: "anything"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestDeleteConstraint(t *testing.T) {
	ctx := context.Background()
	cache := New()

	require.NoError(t, cache.Set(ctx, "lock.test", "all", "mine", caches.Unconditional))

	err := cache.Delete(ctx, "lock.test", "all", &caches.Constraint{Equals: "theirs"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	require.NoError(t, cache.Delete(ctx, "lock.test", "all", &caches.Constraint{Equals: "mine"}))
}

func TestDeleteAbsentKey(t *testing.T) {
	ctx := context.Background()
	cache := New()

	assert.NoError(t, cache.Delete(ctx, "pointer.test", "all", caches.Unconditional))
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	cache := New()

	require.NoError(t, cache.Set(ctx, "pointer.a", "all", "1", caches.Unconditional))
	require.NoError(t, cache.Set(ctx, "pointer.a", "audit", "2", caches.Unconditional))
	require.NoError(t, cache.Set(ctx, "pointer.b", "all", "3", caches.Unconditional))

	value, err := cache.Get(ctx, "pointer.a", "audit")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
}
