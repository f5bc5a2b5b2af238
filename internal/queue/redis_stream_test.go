package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOptionsSanitize(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		opts := StreamOptions{
			Client:   redis.NewClient(&redis.Options{}),
			Stream:   "s",
			Group:    "g",
			Consumer: "c",
		}
		require.NoError(t, opts.sanitize())
		assert.Equal(t, 5*time.Second, opts.Block)
		assert.Equal(t, 30*time.Second, opts.RedeliverAfter)
		assert.NotNil(t, opts.Logger)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		cases := []StreamOptions{
			{Stream: "s", Group: "g", Consumer: "c"},
			{Client: redis.NewClient(&redis.Options{}), Group: "g", Consumer: "c"},
			{Client: redis.NewClient(&redis.Options{}), Stream: "s", Consumer: "c"},
			{Client: redis.NewClient(&redis.Options{}), Stream: "s", Group: "g"},
		}
		for i := range cases {
			assert.Error(t, cases[i].sanitize(), "case %d", i)
		}
	})
}

func TestExtractBody(t *testing.T) {
	body, ok := extractBody(redis.XMessage{Values: map[string]any{"body": `{"id":"x"}`}})
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"x"}`, string(body))

	_, ok = extractBody(redis.XMessage{Values: map[string]any{"other": "y"}})
	assert.False(t, ok)

	_, ok = extractBody(redis.XMessage{Values: map[string]any{"body": 42}})
	assert.False(t, ok)
}

func TestEnqueueRejectsEmptyBody(t *testing.T) {
	s, err := NewStream(StreamOptions{
		Client:   redis.NewClient(&redis.Options{}),
		Stream:   "s",
		Group:    "g",
		Consumer: "c",
	})
	require.NoError(t, err)

	assert.Error(t, s.Enqueue(context.Background(), nil))
}
