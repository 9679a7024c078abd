package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerSettings struct {
	URL        string          `env:"LOADER_LEDGER_URL" envDefault:"http://ledger:8080"`
	Retries    int             `env:"LOADER_LEDGER_RETRIES" envDefault:"2"`
	Timeout    time.Duration   `env:"LOADER_LEDGER_TIMEOUT" envDefault:"3s"`
	Brokers    []string        `env:"LOADER_BROKERS" envDefault:"localhost:9092"`
	MinBalance decimal.Decimal `env:"LOADER_MIN_BALANCE" envDefault:"0.5"`
	Verbose    bool            `env:"LOADER_VERBOSE"`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		envs  map[string]string
		check func(t *testing.T, s ledgerSettings)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, s ledgerSettings) {
				assert.Equal(t, "http://ledger:8080", s.URL)
				assert.Equal(t, 2, s.Retries)
				assert.Equal(t, 3*time.Second, s.Timeout)
				assert.Equal(t, []string{"localhost:9092"}, s.Brokers)
				assert.True(t, decimal.RequireFromString("0.5").Equal(s.MinBalance))
				assert.False(t, s.Verbose)
			},
		},
		{
			name: "environment wins",
			envs: map[string]string{
				"LOADER_LEDGER_RETRIES": "0",
				"LOADER_LEDGER_TIMEOUT": "750ms",
				"LOADER_BROKERS":        "k1:9092,k2:9092",
				"LOADER_MIN_BALANCE":    "12.75",
				"LOADER_VERBOSE":        "true",
			},
			check: func(t *testing.T, s ledgerSettings) {
				assert.Equal(t, 0, s.Retries)
				assert.Equal(t, 750*time.Millisecond, s.Timeout)
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, s.Brokers)
				assert.Equal(t, "12.75", s.MinBalance.String())
				assert.True(t, s.Verbose)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			var s ledgerSettings
			require.NoError(t, Load(&s))
			tt.check(t, s)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	for key, value := range map[string]string{
		"LOADER_LEDGER_RETRIES": "twice",
		"LOADER_LEDGER_TIMEOUT": "soon",
		"LOADER_MIN_BALANCE":    "twelve",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			var s ledgerSettings
			err := Load(&s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parse config")
		})
	}
}

func TestLoad_Required(t *testing.T) {
	type secrets struct {
		SigningKey string `env:"LOADER_SIGNING_KEY,required"`
	}

	var s secrets
	require.Error(t, Load(&s))

	t.Setenv("LOADER_SIGNING_KEY", "k-123")
	require.NoError(t, Load(&s))
	assert.Equal(t, "k-123", s.SigningKey)
}
