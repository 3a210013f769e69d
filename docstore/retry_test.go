package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	assert.Equal(t, base, backoff(0, base, max))
	assert.Equal(t, base, backoff(1, base, max))
	assert.Equal(t, 200*time.Millisecond, backoff(2, base, max))
	assert.Equal(t, 400*time.Millisecond, backoff(3, base, max))
	assert.Equal(t, 800*time.Millisecond, backoff(4, base, max))
	assert.Equal(t, max, backoff(5, base, max))
	assert.Equal(t, max, backoff(50, base, max))
}

func TestIsRetryablePGError(t *testing.T) {
	cases := map[string]bool{
		"40001": true,
		"40P01": true,
		"55P03": true,
		"57014": true,
		"08006": true,
		"23505": false,
		"42P01": false,
	}
	for code, want := range cases {
		err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: code})
		assert.Equal(t, want, isRetryablePGError(err), code)
	}
	assert.False(t, isRetryablePGError(errors.New("plain")))
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, isUndefinedTable(fmt.Errorf("x: %w", &pgconn.PgError{Code: "42P01"})))
	assert.False(t, isUndefinedTable(&pgconn.PgError{Code: "42703"}))
	assert.False(t, isUndefinedTable(errors.New("plain")))
}

func TestSleepWithContext(t *testing.T) {
	assert.NoError(t, sleepWithContext(context.Background(), 0))
	assert.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}
