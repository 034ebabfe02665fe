package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRedisURL(t *testing.T) {
	assert.Equal(t, "", normalizeRedisURL("  "))
	assert.Equal(t, "redis://localhost:6379/2", normalizeRedisURL("redis://localhost:6379/2"))
	assert.Equal(t, "redis://redis:6379", normalizeRedisURL("redis"))
	assert.Equal(t, "redis://10.0.0.5:6380", normalizeRedisURL("10.0.0.5:6380/"))
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := newRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())

	mr.Close()
	_, err = newRedisClient(context.Background(), mr.Addr())
	assert.ErrorContains(t, err, "failed to reach Redis")
}
