package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-errors/internal/config"
)

func TestNilClientIsPassThrough(t *testing.T) {
	c := New(nil, "tiny-errors:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var out map[string]string
	err := c.Get(ctx, "k", &out)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, out)
	assert.NoError(t, c.Close())
}

func TestForAuthFallsBackToPassThrough(t *testing.T) {
	ctx := context.Background()

	for _, addr := range []string{"", "127.0.0.1:1"} {
		c := ForAuth(ctx, config.Config{RedisAddr: addr}, zerolog.Nop())
		require.NotNil(t, c, addr)
		assert.Nil(t, c.client, addr)

		var out string
		assert.ErrorIs(t, c.Get(ctx, "apikey:k", &out), ErrUnavailable, addr)
	}
}
