package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

var (
	_ engine.OracleSource = (*Static)(nil)
	_ engine.OracleSource = (*Redis)(nil)
)

func cond(key string) domain.OracleCondition {
	return domain.OracleCondition{Owner: "carol", Address: "feed-1", Key: key, Value: "yes"}
}

func TestStatic_Lookup(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]string{Key("carol", "feed-1", "preloaded"): "yes"})

	v, err := s.Lookup(ctx, cond("preloaded"))
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	_, err = s.Lookup(ctx, cond("delivery"))
	assert.ErrorIs(t, err, ErrNoValue)

	s.Set("carol", "feed-1", "delivery", "confirmed")
	v, err = s.Lookup(ctx, cond("delivery"))
	require.NoError(t, err)
	assert.Equal(t, "confirmed", v)

	// Owner and address are part of the identity.
	_, err = s.Lookup(ctx, domain.OracleCondition{Owner: "dan", Address: "feed-1", Key: "delivery"})
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestStatic_ZeroValue(t *testing.T) {
	var s Static
	s.Set("o", "a", "k", "v")
	v, err := s.Lookup(context.Background(), domain.OracleCondition{Owner: "o", Address: "a", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

// TestRedis_Integration requires a running Redis on localhost and skips
// otherwise.
func TestRedis_Integration(t *testing.T) {
	r := NewRedis("localhost:6379", "", 0)
	t.Cleanup(func() { r.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "settle-test-" + time.Now().Format("150405.000000")
	_, err := r.Lookup(ctx, cond(key))
	assert.ErrorIs(t, err, ErrNoValue)

	require.NoError(t, r.Set(ctx, "carol", "feed-1", key, "yes"))
	t.Cleanup(func() { r.client.Del(context.Background(), Key("carol", "feed-1", key)) })

	v, err := r.Lookup(ctx, cond(key))
	require.NoError(t, err)
	assert.Equal(t, "yes", v)
}
