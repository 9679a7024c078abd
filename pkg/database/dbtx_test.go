package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ DBTX                 = (*pgxpool.Pool)(nil)
	_ prometheus.Collector = (*PoolStatsCollector)(nil)
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert code: %w", &pgconn.PgError{Code: "23505", ConstraintName: "voucher_codes_code_key"})
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}

func TestIsContention(t *testing.T) {
	for _, code := range []string{"55P03", "57014", "40P01", "40001"} {
		assert.True(t, IsContention(&pgconn.PgError{Code: code}), code)
	}
	assert.False(t, IsContention(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsContention(nil))
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "voucher-service")
	require.NotNil(t, c)

	ch := make(chan *prometheus.Desc, 20)
	c.Describe(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	assert.Equal(t, 12, n)
}
