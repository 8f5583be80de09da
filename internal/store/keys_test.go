package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKey(t *testing.T) {
	_, s := setupTestStore(t)
	ctx := context.Background()

	count, err := s.CountKeys(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The first key is always master.
	raw, first, err := s.CreateKey(ctx, []string{"model:read"}, "admin")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "nons_"))
	assert.Equal(t, []string{MasterScope}, first.Scopes)

	raw2, second, err := s.CreateKey(ctx, []string{"model:read", "model:write"}, "bot")
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.Equal(t, []string{"model:read", "model:write"}, second.Scopes)

	scopes, err := s.LookupScopes(ctx, raw2)
	require.NoError(t, err)
	assert.Equal(t, []string{"model:read", "model:write"}, scopes)

	_, err = s.LookupScopes(ctx, "nons_bogus")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "admin", keys[0].Description)
	assert.Equal(t, "bot", keys[1].Description)
}

func TestDeleteKey(t *testing.T) {
	_, s := setupTestStore(t)
	ctx := context.Background()

	_, first, err := s.CreateKey(ctx, nil, "admin")
	require.NoError(t, err)
	raw, second, err := s.CreateKey(ctx, []string{"model:read"}, "reader")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteKey(ctx, first.ID), ErrPrimaryKey)
	require.NoError(t, s.DeleteKey(ctx, second.ID))
	assert.ErrorIs(t, s.DeleteKey(ctx, second.ID), ErrKeyNotFound)

	_, err = s.LookupScopes(ctx, raw)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
